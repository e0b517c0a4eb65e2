package dispatch

import "github.com/user/adaptivechat/internal/types"

// DefaultConfidenceThreshold is the minimum confidence for a direct answer
// to take the fast path.
const DefaultConfidenceThreshold = 0.6

// Path is the downstream branch chosen for a decision.
type Path int

const (
	PathFastAnswer Path = iota
	PathAgent
	PathAskUser
)

func (p Path) String() string {
	switch p {
	case PathFastAnswer:
		return "fast_answer"
	case PathAgent:
		return "agent"
	case PathAskUser:
		return "ask_user"
	}
	return "unknown"
}

// Route picks the path for d. It depends only on the state, the confidence
// and the threshold: ask_user waits for the user, a direct answer at or above
// the threshold takes the fast path, and everything else goes to the agent.
func Route(d types.Decision, threshold float64) Path {
	switch d.State {
	case types.DecisionAskUser:
		return PathAskUser
	case types.DecisionDirectAnswer:
		if d.Confidence >= threshold {
			return PathFastAnswer
		}
	}
	return PathAgent
}

// FallbackDecision is used when classification fails.
func FallbackDecision() types.Decision {
	return types.Decision{
		State:      types.DecisionAgentNeeded,
		Confidence: 0,
		Reason:     "classifier unavailable",
	}
}
