package domain

import "time"

// OutcomeCode is the closed set of terminal codes a comment event can
// produce. Exactly one code is emitted per event.
type OutcomeCode string

const (
	CodeEcho               OutcomeCode = "ECHO"
	CodeDuplicateIgnored   OutcomeCode = "DUPLICATE_IGNORED"
	CodeSandboxDMLogged    OutcomeCode = "SANDBOX_DM_LOGGED"
	CodeDMSent             OutcomeCode = "DM_SENT"
	CodeNoMatch            OutcomeCode = "NO_MATCH"
	CodeMissingFields      OutcomeCode = "MISSING_FIELDS"
	CodePostNotFound       OutcomeCode = "POST_NOT_FOUND"
	CodeAccountNotFound    OutcomeCode = "ACCOUNT_NOT_FOUND"
	CodeAutomationDisabled OutcomeCode = "AUTOMATION_DISABLED"
	CodeNoLinkAvailable    OutcomeCode = "NO_LINK_AVAILABLE"
	CodeRateLimited        OutcomeCode = "RATE_LIMITED"
	CodeDBError            OutcomeCode = "DB_ERROR"
	CodeUnexpected         OutcomeCode = "UNEXPECTED"
)

// OutcomeDetails is the structured payload attached to an outcome.
type OutcomeDetails struct {
	Link              string `json:"link,omitempty"`
	Provider          string `json:"provider,omitempty"`
	AutoEnabled       bool   `json:"autoEnabled,omitempty"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	RateCount         int    `json:"rateCount,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Outcome is the single result of processing one comment event.
type Outcome struct {
	Code    OutcomeCode
	Matched bool
	SentDM  bool
	Message string
	Details OutcomeDetails
}

// OK reports whether the outcome represents a processed (2xx) event.
func (o Outcome) OK() bool {
	switch o.Code {
	case CodeEcho, CodeDuplicateIgnored, CodeSandboxDMLogged, CodeDMSent, CodeNoMatch:
		return true
	}
	return false
}

// ActivityEvent is one immutable row of the append-only activity log.
type ActivityEvent struct {
	ID        string         `json:"id"`
	PostID    string         `json:"postId"`
	AccountID string         `json:"accountId"`
	Username  string         `json:"username,omitempty"`
	Code      OutcomeCode    `json:"code"`
	Matched   bool           `json:"matched"`
	SentDM    bool           `json:"sentDm"`
	Details   OutcomeDetails `json:"details"`
	CreatedAt time.Time      `json:"createdAt"`
}
