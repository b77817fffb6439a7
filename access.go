package player

// ResolveAccess checks a client's requested access mode for a device-open
// against the mode the Device Entry advertises (spec.md §4.2, §6
// device-open). A request is granted only if it does not exceed what the
// device allows: 'r' and 'w' are each granted as-is against 'a', and 'a'
// is granted only against an 'a' device. Any other combination is denied.
func ResolveAccess(requested, advertised AccessMode) (granted AccessMode, ok bool) {
	switch advertised {
	case AccessAll:
		switch requested {
		case AccessRead, AccessWrite, AccessAll:
			return requested, true
		}
	case AccessRead:
		if requested == AccessRead {
			return AccessRead, true
		}
	case AccessWrite:
		if requested == AccessWrite {
			return AccessWrite, true
		}
	}
	return AccessError, false
}
