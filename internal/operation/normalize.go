package operation

// Normalize folds the wire status into exactly one State.
//
//	done=false                     -> Pending (other fields ignored)
//	done=true, error present       -> Failed
//	done=true, no error, locator   -> Succeeded
//	done=true, no error, no result -> ErrProtocolViolation
func Normalize(raw RawStatus) (Status, error) {
	if !raw.Done {
		return Pending(), nil
	}
	if raw.Error != nil {
		return Failed(*raw.Error), nil
	}
	if raw.Locator != "" {
		var advisories []string
		if len(raw.Advisories) > 0 {
			advisories = append(advisories, raw.Advisories...)
		}
		return Succeeded(raw.Locator, advisories...), nil
	}
	return Status{}, ErrProtocolViolation
}
