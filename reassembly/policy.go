package reassembly

// Policy resolves overlap between two TCP segments that claim intersecting
// byte ranges of the same stream, following the naming Suricata uses for the
// same problem. It is a distinct enumerant set from defrag.FragmentPolicy
// even though both answer "which bytes win": IP fragment overlap and TCP
// segment overlap are configured independently.
type Policy int

const (
	// PolicyFirst always keeps the existing (first-arrived) segment.
	PolicyFirst Policy = iota
	// PolicyLast always keeps the new (most-recently-arrived) segment.
	PolicyLast
	// PolicyWindows keeps the existing segment unless the new one starts
	// strictly before it.
	PolicyWindows
	// PolicyLinux keeps the existing segment unless the new one starts
	// strictly before it, or starts at the same sequence number and ends
	// after it.
	PolicyLinux
	// PolicySolaris prefers the new segment unless the existing one ends
	// after it, or the existing one starts before it and ends at or after it.
	PolicySolaris
	// PolicyLinuxOld prefers the new segment unless the existing one starts
	// before it, or starts at the same sequence number and ends after it.
	PolicyLinuxOld
)

func (p Policy) String() string {
	switch p {
	case PolicyFirst:
		return "first"
	case PolicyLast:
		return "last"
	case PolicyWindows:
		return "windows"
	case PolicyLinux:
		return "linux"
	case PolicySolaris:
		return "solaris"
	case PolicyLinuxOld:
		return "linux-old"
	default:
		return "unknown"
	}
}

// keepExisting decides, for one pair of overlapping segments, whether the
// existing segment wins under p. existingSeq/existingEnd/newSeq/newEnd are
// compared with the wrap-aware Compare.
func keepExisting(p Policy, existingSeq, existingEnd, newSeq, newEnd uint32) bool {
	newStartsBefore := Compare(newSeq, existingSeq) < 0
	newStartsSame := newSeq == existingSeq
	newEndsAfter := Compare(newEnd, existingEnd) > 0

	existingStartsBefore := Compare(existingSeq, newSeq) < 0
	existingEndsAfter := Compare(existingEnd, newEnd) > 0
	existingEndsSameOrAfter := Compare(existingEnd, newEnd) >= 0

	switch p {
	case PolicyFirst:
		return true
	case PolicyLast:
		return false
	case PolicyWindows:
		return !newStartsBefore
	case PolicyLinux:
		return !(newStartsBefore || (newStartsSame && newEndsAfter))
	case PolicySolaris:
		return existingEndsAfter || (existingStartsBefore && existingEndsSameOrAfter)
	case PolicyLinuxOld:
		return existingStartsBefore || (existingSeq == newSeq && existingEndsAfter)
	default:
		return true
	}
}
