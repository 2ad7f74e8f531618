package state

// Tri is a fact learned from the bus that may not have been observed yet.
type Tri uint8

const (
	Unknown Tri = iota
	False
	True
)

func TriOf(b bool) Tri {
	if b {
		return True
	}
	return False
}

func (t Tri) String() string {
	switch t {
	case False:
		return "false"
	case True:
		return "true"
	default:
		return "unknown"
	}
}
