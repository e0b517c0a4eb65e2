package dispatch

// State is a dispatcher state.
type State int

const (
	StateIdle State = iota
	StateClassifying
	StateFastAnswer
	StateAwaitUserAck
	StateAgentStreaming
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClassifying:
		return "classifying"
	case StateFastAnswer:
		return "fast_answer"
	case StateAwaitUserAck:
		return "await_user_ack"
	case StateAgentStreaming:
		return "agent_streaming"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// cancellable reports whether Stop has an effect in s.
func (s State) cancellable() bool {
	switch s {
	case StateClassifying, StateFastAnswer, StateAwaitUserAck, StateAgentStreaming:
		return true
	}
	return false
}
