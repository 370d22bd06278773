package execution

// Phase is a step of one command execution
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePathSync
	PhaseStrategySelect
	PhaseStructured
	PhaseSentinel
	PhaseDone
	PhaseTimedOut
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:           "IDLE",
	PhasePathSync:       "PATH_SYNC",
	PhaseStrategySelect: "STRATEGY_SELECT",
	PhaseStructured:     "STRUCTURED",
	PhaseSentinel:       "SENTINEL",
	PhaseDone:           "DONE",
	PhaseTimedOut:       "TIMED_OUT",
	PhaseFailed:         "FAILED",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition can follow
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseTimedOut || p == PhaseFailed
}

// Strategy names how a command's completion was detected
type Strategy string

const (
	StrategyStructured Strategy = "structured"
	StrategySentinel   Strategy = "sentinel"
)

// Reasons for leaving the structured strategy
const (
	ReasonEmptyBuffer        = "empty_buffer"
	ReasonNoIdentity         = "no_identity"
	ReasonNoPrompt           = "no_prompt"
	ReasonTimeout            = "timeout"
	ReasonSubscriptionClosed = "subscription_closed"
	ReasonSubscribeFailed    = "subscribe_failed"
)
