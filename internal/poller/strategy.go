package poller

import (
	"fmt"
	"strings"
)

// Strategy names a scheduling strategy. The set is closed.
type Strategy string

// Available strategies.
const (
	StrategyReschedule Strategy = "reschedule"
	StrategyFixedRate  Strategy = "fixed-rate"
	StrategyBlocking   Strategy = "blocking"
	StrategyStream     Strategy = "stream"
)

var strategies = []Strategy{
	StrategyReschedule,
	StrategyFixedRate,
	StrategyBlocking,
	StrategyStream,
}

// Strategies returns every strategy in a stable order.
func Strategies() []Strategy {
	out := make([]Strategy, len(strategies))
	copy(out, strategies)
	return out
}

// IsValid returns true if s is one of the known strategies.
func (s Strategy) IsValid() bool {
	for _, known := range strategies {
		if s == known {
			return true
		}
	}
	return false
}

// String returns the strategy name.
func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy converts a name into a Strategy. Matching ignores case and
// accepts "fixed_rate" for "fixed-rate".
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-"))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}
