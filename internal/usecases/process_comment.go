// Package usecases composes the processing core: settings resolution and
// the comment-to-DM orchestration. All I/O sits behind the port
// interfaces declared here.
package usecases

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/htheomoller/calmer-sub000/internal/adapters/provider"
	"github.com/htheomoller/calmer-sub000/internal/domain"
	"github.com/htheomoller/calmer-sub000/internal/matcher"
	"github.com/htheomoller/calmer-sub000/pkg/log"
)

// DedupStore reserves externally supplied comment IDs. Release exists
// because not every reservation may outlive its request: rate-limited,
// unresolvable and store-failed events get a fresh evaluation on retry,
// not a duplicate answer.
type DedupStore interface {
	ReserveComment(ctx context.Context, commentID string) (bool, error)
	ReleaseComment(ctx context.Context, commentID string) error
}

// RateStore increments a scope+window bucket and returns the new count.
type RateStore interface {
	ConsumeRateBudget(ctx context.Context, scope, window string) (int, error)
}

// ActivityLog appends immutable outcome records.
type ActivityLog interface {
	AppendActivity(ctx context.Context, event *domain.ActivityEvent) error
}

// ProcessCommentUseCase runs one comment event through the full pipeline:
// dedup, settings resolution, automation gate, link check, rate gate,
// trigger match, delivery, recording. Exactly one terminal outcome per
// event.
type ProcessCommentUseCase struct {
	resolver    *ResolveSettingsUseCase
	settings    ConfigStore
	dedup       DedupStore
	rates       RateStore
	activity    ActivityLog
	dispatchers map[domain.Provider]provider.Dispatcher

	rateLimitMax   int
	rateWindow     time.Duration
	defaultTrigger string

	now func() time.Time
}

// NewProcessCommentUseCase creates a new ProcessCommentUseCase.
func NewProcessCommentUseCase(
	resolver *ResolveSettingsUseCase,
	settings ConfigStore,
	dedup DedupStore,
	rates RateStore,
	activity ActivityLog,
	dispatchers map[domain.Provider]provider.Dispatcher,
	rateLimitMax int,
	rateWindow time.Duration,
	defaultTrigger string,
) *ProcessCommentUseCase {
	return &ProcessCommentUseCase{
		resolver:       resolver,
		settings:       settings,
		dedup:          dedup,
		rates:          rates,
		activity:       activity,
		dispatchers:    dispatchers,
		rateLimitMax:   rateLimitMax,
		rateWindow:     rateWindow,
		defaultTrigger: defaultTrigger,
		now:            time.Now,
	}
}

// Execute processes one comment event and returns its terminal outcome.
// Errors never escape: backing-store failures map to DB_ERROR.
func (uc *ProcessCommentUseCase) Execute(ctx context.Context, event domain.CommentEvent) domain.Outcome {
	if event.CommentText == "" {
		// Documented fallback for synthetic traffic, not an error.
		event.CommentText = uc.defaultTrigger
	}

	// Idempotency is opt-in per event: no comment ID, no guard.
	if event.CommentID != "" {
		duplicate, err := uc.dedup.ReserveComment(ctx, event.CommentID)
		if err != nil {
			return uc.dbError(ctx, event, "idempotency check failed", err)
		}
		if duplicate {
			log.GlobalInfoCtx(ctx, "duplicate comment ignored",
				"post_id", event.PostID, "comment_id", event.CommentID)
			return domain.Outcome{
				Code:    domain.CodeDuplicateIgnored,
				Message: "comment already processed",
			}
		}
	}

	cfg, err := uc.resolver.Execute(ctx, event.PostID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPostNotFound):
			// A fixable rejection is not "processed"; once the post
			// exists, the same comment retries cleanly.
			uc.releaseReservation(ctx, event.CommentID)
			return domain.Outcome{
				Code:    domain.CodePostNotFound,
				Message: "no automation configured for this post",
			}
		case errors.Is(err, domain.ErrAccountNotFound):
			uc.releaseReservation(ctx, event.CommentID)
			return domain.Outcome{
				Code:    domain.CodeAccountNotFound,
				Message: "post has no owning account",
			}
		default:
			return uc.dbError(ctx, event, "settings resolution failed", err)
		}
	}

	details := domain.OutcomeDetails{Provider: string(event.Provider)}

	// Automation gate. A disabled post is auto-enabled as a sandbox
	// convenience; any other provider is rejected.
	if !cfg.AutomationEnabled {
		if event.Provider != domain.ProviderSandbox {
			return uc.record(ctx, event, cfg, domain.Outcome{
				Code:    domain.CodeAutomationDisabled,
				Message: "automation is disabled for this post",
				Details: details,
			})
		}
		if err := uc.settings.SetAutomationEnabled(ctx, cfg.PostID, true); err != nil {
			return uc.dbError(ctx, event, "auto-enable failed", err)
		}
		details.AutoEnabled = true
		log.GlobalInfoCtx(ctx, "automation auto-enabled", "post_id", cfg.PostID)
	}

	if cfg.Link == "" {
		return uc.record(ctx, event, cfg, domain.Outcome{
			Code:    domain.CodeNoLinkAvailable,
			Message: "no link configured for this post or account",
			Details: details,
		})
	}

	// Rate gate. Quota is consumed by every non-duplicate event reaching
	// this point, whether or not it goes on to match.
	scope := event.AccountID
	if scope == "" {
		scope = cfg.AccountID
	}
	if scope == "" {
		scope = cfg.PostID
	}
	window := event.Window
	if window == "" {
		window = strconv.FormatInt(uc.now().Unix()/int64(uc.rateWindow.Seconds()), 10)
	}
	count, err := uc.rates.ConsumeRateBudget(ctx, scope, window)
	if err != nil {
		return uc.dbError(ctx, event, "rate limit check failed", err)
	}
	details.RateCount = count
	if count > uc.rateLimitMax {
		// A rate-limited event is not "processed": drop the reservation
		// so a retry is evaluated afresh (and stays limited until the
		// window rolls).
		uc.releaseReservation(ctx, event.CommentID)
		return uc.record(ctx, event, cfg, domain.Outcome{
			Code:    domain.CodeRateLimited,
			Message: "rate limit exceeded for this window",
			Details: details,
		})
	}

	matched := matcher.Match(event.CommentText, matcher.Config{
		Mode:          cfg.TriggerMode,
		Triggers:      cfg.TriggerList,
		TypoTolerance: cfg.TypoTolerance,
	})
	if !matched {
		return uc.record(ctx, event, cfg, domain.Outcome{
			Code:    domain.CodeNoMatch,
			Message: "comment did not match any trigger",
			Details: details,
		})
	}

	dispatcher, ok := uc.dispatchers[event.Provider]
	if !ok {
		dispatcher = uc.dispatchers[domain.ProviderSandbox]
	}
	result := dispatcher.Dispatch(ctx, provider.Message{
		PostID:    cfg.PostID,
		Recipient: event.Username,
		Text:      "Thanks for your comment! Here's your link:",
		Link:      cfg.Link,
	})

	details.Link = cfg.Link
	details.Provider = dispatcher.Name()
	details.ProviderMessageID = result.ProviderMessageID
	details.Error = result.Error

	outcome := domain.Outcome{
		Matched: true,
		SentDM:  result.Sent,
		Details: details,
	}
	if dispatcher.Name() == "sandbox" {
		outcome.Code = domain.CodeSandboxDMLogged
		outcome.Message = "matched; sandbox DM logged"
	} else {
		outcome.Code = domain.CodeDMSent
		if result.Sent {
			outcome.Message = "matched; DM sent"
		} else {
			outcome.Message = "matched; DM delivery failed"
		}
	}
	return uc.record(ctx, event, cfg, outcome)
}

// record appends the activity event for a terminal outcome. A recorder
// failure is logged, never silently dropped, and does not change the
// outcome returned to the caller.
func (uc *ProcessCommentUseCase) record(ctx context.Context, event domain.CommentEvent, cfg *domain.AutomationConfig, outcome domain.Outcome) domain.Outcome {
	activity := &domain.ActivityEvent{
		PostID:    event.PostID,
		AccountID: cfg.AccountID,
		Username:  event.Username,
		Code:      outcome.Code,
		Matched:   outcome.Matched,
		SentDM:    outcome.SentDM,
		Details:   outcome.Details,
	}
	if err := uc.activity.AppendActivity(ctx, activity); err != nil {
		log.GlobalErrorCtx(ctx, "activity record failed",
			"post_id", event.PostID, "code", string(outcome.Code), "error", err)
	}
	return outcome
}

// dbError maps a backing-store failure to its terminal outcome. The
// idempotency reservation, if any, is dropped so the provider's retry of
// the same comment is evaluated again once the store recovers.
func (uc *ProcessCommentUseCase) dbError(ctx context.Context, event domain.CommentEvent, msg string, err error) domain.Outcome {
	log.GlobalErrorCtx(ctx, msg, "post_id", event.PostID, "error", err)
	uc.releaseReservation(ctx, event.CommentID)
	return domain.Outcome{
		Code:    domain.CodeDBError,
		Message: "backing store failure",
	}
}

// releaseReservation drops an idempotency reservation so a retry of the
// same comment gets a fresh evaluation instead of DUPLICATE_IGNORED.
func (uc *ProcessCommentUseCase) releaseReservation(ctx context.Context, commentID string) {
	if commentID == "" {
		return
	}
	if err := uc.dedup.ReleaseComment(ctx, commentID); err != nil {
		log.GlobalErrorCtx(ctx, "dedup release failed",
			"comment_id", commentID, "error", err)
	}
}
