package domain

// SignalOutcome tells why an extraction produced (or did not produce) a count
type SignalOutcome string

const (
	SignalFound       SignalOutcome = "found"
	SignalEmpty       SignalOutcome = "empty"
	SignalNoMatch     SignalOutcome = "no_match"
	SignalExcluded    SignalOutcome = "excluded"
	SignalUnparseable SignalOutcome = "unparseable"
	SignalOutOfRange  SignalOutcome = "out_of_range"
)

// SignalResult is the typed result of a sales-signal extraction.
// Count is zero unless Outcome is SignalFound.
type SignalResult struct {
	Count      int64         `json:"count"`
	Outcome    SignalOutcome `json:"outcome"`
	Rule       string        `json:"rule,omitempty"`
	Exclusion  string        `json:"exclusion,omitempty"`
	OpenBound  bool          `json:"openBound,omitempty"`
	Candidates int           `json:"candidates,omitempty"` // rules that matched; >1 means ambiguous
}

// Found reports whether the result carries a usable count
func (r SignalResult) Found() bool {
	return r.Outcome == SignalFound
}
