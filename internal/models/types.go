package models

// AddressFamily is the family of a resolved address
type AddressFamily string

const (
	FamilyIPv4  AddressFamily = "IPv4"
	FamilyIPv6  AddressFamily = "IPv6"
	FamilyOther AddressFamily = "other"
)

// ReachOutcome classifies a single bulk reachability attempt
type ReachOutcome string

const (
	Reachable ReachOutcome = "reachable"
	Failed    ReachOutcome = "failed"
)

// GreetingStatus is the non-fatal outcome of the greeting read
type GreetingStatus string

const (
	GreetingReceived GreetingStatus = "received"
	GreetingTimeout  GreetingStatus = "timeout"
	GreetingEmpty    GreetingStatus = "empty"
	GreetingError    GreetingStatus = "error"
)

// State is a position in the diagnostic state machine
type State string

const (
	StateStart             State = "start"
	StateResolved          State = "resolved"
	StateProbed            State = "probed"
	StateConnected         State = "connected"
	StateTLSEstablished    State = "tls_established"
	StateGreetingAttempted State = "greeting_attempted"
	StateSummarized        State = "summarized"
	StateAborted           State = "aborted"
)

// Terminal reports whether no further transition can fire from s.
func (s State) Terminal() bool {
	return s == StateSummarized || s == StateAborted
}

// StageStatus tags the outcome of a single stage
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageWarning StageStatus = "warning"
	StageFatal   StageStatus = "fatal"
)

// RunStatus represents the current state of a diagnostic run
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusAborted RunStatus = "aborted"
)
