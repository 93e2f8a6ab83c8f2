package domain

// transitions is a closed state machine: a status may only move to the
// statuses listed for it. Statuses with no entry are terminal.
type transitions[S ~string] map[S][]S

func (t transitions[S]) allows(from, to S) bool {
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (t transitions[S]) terminal(s S) bool {
	return len(t[s]) == 0
}
