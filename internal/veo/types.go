// Package veo provides an HTTP client for a Gemini/Veo-style video generation
// API that models work as a long-running operation.
package veo

import "github.com/maauso/videogen-lro/internal/operation"

// Request describes a video generation job.
type Request struct {
	Prompt           string
	NegativePrompt   string
	AspectRatio      string // "16:9" or "9:16"
	PersonGeneration string // e.g. "allow_all", "dont_allow"
	DurationSeconds  int
	SampleCount      int
}

// DefaultRequest returns a request with the vendor defaults applied.
func DefaultRequest(prompt string) Request {
	return Request{
		Prompt:          prompt,
		AspectRatio:     "16:9",
		DurationSeconds: 8,
		SampleCount:     1,
	}
}

// predictRequest is the body of the :predictLongRunning call.
type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

type predictParameters struct {
	AspectRatio      string `json:"aspectRatio,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	SampleCount      int    `json:"sampleCount,omitempty"`
}

// operationResponse is returned by both submit and status calls.
type operationResponse struct {
	Name     string                 `json:"name"`
	Done     bool                   `json:"done"`
	Metadata map[string]any         `json:"metadata,omitempty"`
	Error    *operation.ErrorDetail `json:"error,omitempty"`
	Response *operationResult       `json:"response,omitempty"`
}

type operationResult struct {
	GenerateVideoResponse generateVideoResponse `json:"generateVideoResponse"`
}

type generateVideoResponse struct {
	GeneratedSamples        []generatedSample `json:"generatedSamples"`
	RaiMediaFilteredReasons []string          `json:"raiMediaFilteredReasons,omitempty"`
}

type generatedSample struct {
	Video struct {
		URI string `json:"uri"`
	} `json:"video"`
}

// raw maps a status response onto the wire-level status.
func (r operationResponse) raw() operation.RawStatus {
	raw := operation.RawStatus{Done: r.Done, Error: r.Error}
	if r.Response != nil {
		for _, s := range r.Response.GenerateVideoResponse.GeneratedSamples {
			if s.Video.URI != "" {
				raw.Locator = s.Video.URI
				break
			}
		}
		raw.Advisories = r.Response.GenerateVideoResponse.RaiMediaFilteredReasons
	}
	return raw
}
