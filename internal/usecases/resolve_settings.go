package usecases

import (
	"context"
	"fmt"

	"github.com/htheomoller/calmer-sub000/internal/domain"
)

// ConfigStore is the stored-settings surface the resolver reads from and
// the automation gate writes through.
type ConfigStore interface {
	GetPost(ctx context.Context, id string) (*domain.Post, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	SetAutomationEnabled(ctx context.Context, postID string, enabled bool) error
}

// Hardcoded last layer of the settings merge, used only when neither the
// post nor the account defines a value.
var (
	fallbackTriggerMode = domain.ModeExactPhrase
	fallbackTriggerList = []string{"LINK"}
)

// ResolveSettingsUseCase builds the per-event automation view for a post:
// post-level settings first, account defaults second, hardcoded fallbacks
// last. Read-only.
type ResolveSettingsUseCase struct {
	store ConfigStore
}

// NewResolveSettingsUseCase creates a new ResolveSettingsUseCase.
func NewResolveSettingsUseCase(store ConfigStore) *ResolveSettingsUseCase {
	return &ResolveSettingsUseCase{store: store}
}

// Execute resolves the automation configuration for one post. A missing
// link is not an error here; the orchestrator decides what it means.
func (uc *ResolveSettingsUseCase) Execute(ctx context.Context, postID string) (*domain.AutomationConfig, error) {
	post, err := uc.store.GetPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("resolve post %s: %w", postID, err)
	}

	account, err := uc.store.GetAccount(ctx, post.AccountID)
	if err != nil {
		return nil, fmt.Errorf("resolve account %s: %w", post.AccountID, err)
	}

	cfg := &domain.AutomationConfig{
		PostID:            post.ID,
		AccountID:         account.ID,
		AutomationEnabled: post.AutomationEnabled,
		TriggerMode:       fallbackTriggerMode,
		TriggerList:       fallbackTriggerList,
	}

	switch {
	case post.TriggerMode != nil && post.TriggerMode.Valid():
		cfg.TriggerMode = *post.TriggerMode
	case account.TriggerMode != nil && account.TriggerMode.Valid():
		cfg.TriggerMode = *account.TriggerMode
	}

	switch {
	case len(post.TriggerList) > 0:
		cfg.TriggerList = post.TriggerList
	case len(account.TriggerList) > 0:
		cfg.TriggerList = account.TriggerList
	}

	switch {
	case post.TypoTolerance != nil:
		cfg.TypoTolerance = *post.TypoTolerance
	case account.TypoTolerance != nil:
		cfg.TypoTolerance = *account.TypoTolerance
	}

	switch {
	case post.Link != nil && *post.Link != "":
		cfg.Link = *post.Link
	case account.DefaultLink != nil && *account.DefaultLink != "":
		cfg.Link = *account.DefaultLink
	}

	return cfg, nil
}
