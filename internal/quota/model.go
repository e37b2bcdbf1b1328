package quota

// DenyReason classifies a quota denial. Reasons are user-displayable and
// stable: the UI keys limit modals off them.
type DenyReason string

const (
	ReasonPlanExpired                  DenyReason = "PlanExpired"
	ReasonInputTokenLimitExceeded      DenyReason = "InputTokenLimitExceeded"
	ReasonOutputTokenLimitExceeded     DenyReason = "OutputTokenLimitExceeded"
	ReasonDailyResponseLimitExceeded   DenyReason = "DailyResponseLimitExceeded"
	ReasonDailyTokenLimitExceeded      DenyReason = "DailyTokenLimitExceeded"
	ReasonAbsoluteTokenCeilingExceeded DenyReason = "AbsoluteTokenCeilingExceeded"
	ReasonRateLimited                  DenyReason = "RateLimited"
	ReasonStoreUnavailable             DenyReason = "StoreUnavailable"
)

// WarningExtendedLimit is attached to free-tier admissions above the soft
// output-token limit but under the hard ceiling.
const WarningExtendedLimit = "extended-limit-used"

// UsageStats describes free-tier consumption, returned with denials so the
// UI can render the limit modal with a reset countdown.
type UsageStats struct {
	ResponsesCount    int `json:"responses_count"`
	ResponsesLimit    int `json:"responses_limit"`
	InputTokensUsed   int `json:"input_tokens_used"`
	OutputTokensUsed  int `json:"output_tokens_used"`
	OutputTokensLimit int `json:"output_tokens_limit"`
	ResetInMinutes    int `json:"reset_in_minutes"`
}

// Remaining describes a paid plan's balance after (or at the point of) an
// admission decision.
type Remaining struct {
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	PlanType     string `json:"plan_type"`
}

// Decision is the outcome of an admission check. When Allowed is true the
// requested tokens are already accounted against the caller's budget.
type Decision struct {
	Allowed   bool        `json:"allowed"`
	Reason    DenyReason  `json:"reason,omitempty"`
	Warning   string      `json:"warning,omitempty"`
	Remaining *Remaining  `json:"remaining,omitempty"`
	Usage     *UsageStats `json:"usage_stats,omitempty"`
}

// CheckRequest is the body of POST /api/v1/quota/check.
type CheckRequest struct {
	InputTokens  int `json:"input_tokens" validate:"gte=0"`
	OutputTokens int `json:"output_tokens" validate:"required,gt=0"`
}

// Status is the API response for GET /api/v1/quota.
type Status struct {
	Tier       string      `json:"tier"` // "free" or the plan type
	Plan       *Remaining  `json:"plan,omitempty"`
	PlanEndsAt string      `json:"plan_ends_at,omitempty"`
	Usage      *UsageStats `json:"usage,omitempty"`
}
