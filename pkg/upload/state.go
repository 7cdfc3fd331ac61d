package upload

import "fmt"

// State is a step of the upload pipeline. States advance in declaration
// order; Aborted can be entered from any of them.
type State int

const (
	Receiving State = iota
	SizeChecked
	Parsed
	Validated
	Stored
	Verified
	Recorded
	Responded
	Aborted
)

var stateNames = [...]string{
	Receiving:   "receiving",
	SizeChecked: "size_checked",
	Parsed:      "parsed",
	Validated:   "validated",
	Stored:      "stored",
	Verified:    "verified",
	Recorded:    "recorded",
	Responded:   "responded",
	Aborted:     "aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}
