package uow

import (
	"strconv"
	"strings"
)

// State is the lifecycle state of a tracked entry.
type State uint8

// Entry states.
const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

var stateNames = [...]string{
	Detached:  "Detached",
	Unchanged: "Unchanged",
	Added:     "Added",
	Modified:  "Modified",
	Deleted:   "Deleted",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Pending reports whether an entry in this state has a storage effect on save.
func (s State) Pending() bool {
	return s == Added || s == Modified || s == Deleted
}

// ParseState returns the state with the given case-insensitive name.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return State(i), true
		}
	}
	return Detached, false
}
