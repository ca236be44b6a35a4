// Package domain contains the core entities of the comment-to-DM engine.
package domain

import "time"

// TriggerMode selects how the trigger list is evaluated against a comment.
type TriggerMode string

const (
	// ModeExactPhrase matches when a trigger appears as a whole-word phrase.
	ModeExactPhrase TriggerMode = "exact_phrase"
	// ModeAnyKeywords matches when at least one trigger token is present.
	ModeAnyKeywords TriggerMode = "any_keywords"
	// ModeAllWords matches when every trigger token is present, in any order.
	ModeAllWords TriggerMode = "all_words"
)

// Valid reports whether m is one of the known trigger modes.
func (m TriggerMode) Valid() bool {
	switch m {
	case ModeExactPhrase, ModeAnyKeywords, ModeAllWords:
		return true
	}
	return false
}

// Provider identifies a delivery channel for an outbound DM.
type Provider string

const (
	// ProviderSandbox logs the would-be DM without any network I/O.
	ProviderSandbox Provider = "sandbox"
	// ProviderLive sends the DM through the messaging API.
	ProviderLive Provider = "live"
)

// AutomationConfig is the fully resolved, read-only automation view for one
// comment event. Constructed fresh per event by the settings resolver,
// never mutated afterwards.
type AutomationConfig struct {
	PostID            string
	AccountID         string
	AutomationEnabled bool
	TriggerMode       TriggerMode
	TriggerList       []string
	TypoTolerance     bool
	Link              string // empty when neither post nor account provides one
}

// CommentEvent is one inbound "comment observed" webhook payload.
type CommentEvent struct {
	Provider    Provider
	PostID      string
	Username    string
	CommentText string
	CommentID   string // optional idempotency key
	AccountID   string
	Window      string // test-only rate-limit bucket override
	Debug       bool
}

// Post is the stored per-post automation settings row. Trigger fields are
// pointers: nil means "fall back to the account layer".
type Post struct {
	ID                string
	AccountID         string
	AutomationEnabled bool
	TriggerMode       *TriggerMode
	TriggerList       []string
	TypoTolerance     *bool
	Link              *string
	CreatedAt         time.Time
}

// Account holds account-level defaults for posts that do not override them.
type Account struct {
	ID            string
	IGUsername    string
	TriggerMode   *TriggerMode
	TriggerList   []string
	TypoTolerance *bool
	DefaultLink   *string
	CreatedAt     time.Time
}
