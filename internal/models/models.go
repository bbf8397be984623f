package models

// Conversation roles accepted in a chat request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single conversational message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether the role is one of the accepted conversation roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// CostClass buckets a candidate model by the budget it consumes.
type CostClass string

const (
	CostLight CostClass = "light"
	CostHeavy CostClass = "heavy"
	CostCode  CostClass = "code"
)

// ValidCostClass reports whether the class is a known cost bucket.
func ValidCostClass(class CostClass) bool {
	switch class {
	case CostLight, CostHeavy, CostCode:
		return true
	default:
		return false
	}
}

// ModelCandidate identifies a remote model backend the orchestrator may invoke.
// Candidates form a fixed ordered list; list order encodes fallback priority.
type ModelCandidate struct {
	ID        string
	CostClass CostClass
}

// UsageStats holds the approximate usage counters persisted between requests.
// Counters are always relative to the current day and month: any read or
// write first compares the reset markers against the clock and zeroes the
// corresponding counter when the period has rolled over.
type UsageStats struct {
	DailyRequests    int    `json:"daily_requests"`
	MonthlyTokens    int    `json:"monthly_tokens"`
	LastResetDate    string `json:"last_reset_date"`    // 2006-01-02
	LastMonthlyReset string `json:"last_monthly_reset"` // 2006-01
}

// QuotaDecision is the computed outcome of a quota gate check.
type QuotaDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// GenerationParams carries the fixed generation settings sent with every
// model invocation.
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}
