package web_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/htheomoller/calmer-sub000/internal/adapters/provider"
	"github.com/htheomoller/calmer-sub000/internal/adapters/store"
	"github.com/htheomoller/calmer-sub000/internal/adapters/web"
	"github.com/htheomoller/calmer-sub000/internal/domain"
	"github.com/htheomoller/calmer-sub000/internal/usecases"
)

const testRateMax = 10

type testEnv struct {
	app   *fiber.App
	store *store.SQLite
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	resolver := usecases.NewResolveSettingsUseCase(s)
	process := usecases.NewProcessCommentUseCase(
		resolver, s, s, s, s,
		map[domain.Provider]provider.Dispatcher{
			domain.ProviderSandbox: provider.NewSandbox(),
		},
		testRateMax, time.Minute, "LINK",
	)
	handlers := web.NewHandlers(process, s, s, domain.ProviderSandbox)

	app := fiber.New(fiber.Config{ErrorHandler: web.ErrorHandler})
	app.Use(recover.New())
	app.Use(requestid.New(web.RequestIDConfig()))
	app.Use(web.RequestIDToContextMiddleware())
	web.SetupRoutes(app, handlers)

	return &testEnv{app: app, store: s}
}

func strPtr(s string) *string { return &s }

func (e *testEnv) seedPost(t *testing.T, post domain.Post) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.UpsertAccount(ctx, &domain.Account{
		ID:          "acct_1",
		IGUsername:  "calmerdemo",
		DefaultLink: strPtr("https://example.com/default"),
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if post.AccountID == "" {
		post.AccountID = "acct_1"
	}
	if err := e.store.UpsertPost(ctx, &post); err != nil {
		t.Fatalf("seed post: %v", err)
	}
}

type envelope struct {
	OK      bool           `json:"ok"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func (e *testEnv) postWebhook(t *testing.T, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/comment", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.app.Test(req, 10000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode response %q: %v", data, err)
	}
	return resp.StatusCode, env
}

func TestWebhook_DebugEcho(t *testing.T) {
	env := setupTestEnv(t)

	status, resp := env.postWebhook(t, `{"debug":true,"ig_post_id":"post_1","anything":"goes"}`)

	if status != http.StatusOK || resp.Code != "ECHO" {
		t.Fatalf("status = %d, code = %s, want 200 ECHO", status, resp.Code)
	}
	if resp.Details["anything"] != "goes" {
		t.Errorf("echo should return the body verbatim, got %v", resp.Details)
	}
}

func TestWebhook_MissingFields(t *testing.T) {
	env := setupTestEnv(t)

	status, resp := env.postWebhook(t, `{"comment_text":"LINK"}`)
	if status != http.StatusBadRequest || resp.Code != "MISSING_FIELDS" {
		t.Errorf("status = %d, code = %s, want 400 MISSING_FIELDS", status, resp.Code)
	}

	status, resp = env.postWebhook(t, `{not json`)
	if status != http.StatusBadRequest || resp.Code != "MISSING_FIELDS" {
		t.Errorf("status = %d, code = %s, want 400 MISSING_FIELDS on bad JSON", status, resp.Code)
	}
}

func TestWebhook_PostNotFound(t *testing.T) {
	env := setupTestEnv(t)

	status, resp := env.postWebhook(t, `{"ig_post_id":"ghost","comment_text":"LINK"}`)

	if status != http.StatusNotFound || resp.Code != "POST_NOT_FOUND" {
		t.Errorf("status = %d, code = %s, want 404 POST_NOT_FOUND", status, resp.Code)
	}
}

func TestWebhook_SandboxFlow(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPost(t, domain.Post{
		ID:                "post_1",
		AutomationEnabled: true,
		Link:              strPtr("https://example.com/offer"),
	})

	status, resp := env.postWebhook(t,
		`{"ig_post_id":"post_1","ig_user":"fan","comment_text":"please LINK","comment_id":"c_1"}`)

	if status != http.StatusOK || resp.Code != "SANDBOX_DM_LOGGED" {
		t.Fatalf("status = %d, code = %s (%s), want 200 SANDBOX_DM_LOGGED", status, resp.Code, resp.Message)
	}
	if resp.Details["link"] != "https://example.com/offer" {
		t.Errorf("details.link = %v", resp.Details["link"])
	}

	// The activity feed reflects the returned outcome.
	events := env.listActivity(t, "post_1")
	if len(events) != 1 {
		t.Fatalf("activity events = %d, want 1", len(events))
	}
	if events[0].Code != domain.CodeSandboxDMLogged || !events[0].Matched || !events[0].SentDM {
		t.Errorf("recorded event = %+v", events[0])
	}
}

func TestWebhook_Duplicate(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPost(t, domain.Post{
		ID:                "post_1",
		AutomationEnabled: true,
		Link:              strPtr("https://example.com/offer"),
	})

	body := `{"ig_post_id":"post_1","comment_text":"LINK","comment_id":"c_dup"}`

	status, resp := env.postWebhook(t, body)
	if status != http.StatusOK || resp.Code != "SANDBOX_DM_LOGGED" {
		t.Fatalf("first: status = %d, code = %s", status, resp.Code)
	}

	status, resp = env.postWebhook(t, body)
	if status != http.StatusOK || resp.Code != "DUPLICATE_IGNORED" {
		t.Fatalf("second: status = %d, code = %s, want 200 DUPLICATE_IGNORED", status, resp.Code)
	}

	if got := len(env.listActivity(t, "post_1")); got != 1 {
		t.Errorf("activity events = %d, duplicates must not be re-recorded", got)
	}
}

func TestWebhook_NoMatch(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPost(t, domain.Post{
		ID:                "post_1",
		AutomationEnabled: true,
		TriggerList:       []string{"promo"},
		Link:              strPtr("https://example.com/offer"),
	})

	status, resp := env.postWebhook(t, `{"ig_post_id":"post_1","comment_text":"lovely shot"}`)

	if status != http.StatusOK || resp.Code != "NO_MATCH" {
		t.Errorf("status = %d, code = %s, want 200 NO_MATCH", status, resp.Code)
	}
}

func TestWebhook_AutoEnableOnSandbox(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPost(t, domain.Post{
		ID:                "post_1",
		AutomationEnabled: false,
		Link:              strPtr("https://example.com/offer"),
	})

	status, resp := env.postWebhook(t,
		`{"ig_post_id":"post_1","provider":"sandbox","comment_text":"LINK"}`)

	if status != http.StatusOK || resp.Code != "SANDBOX_DM_LOGGED" {
		t.Fatalf("status = %d, code = %s, want 200 SANDBOX_DM_LOGGED", status, resp.Code)
	}
	if resp.Details["autoEnabled"] != true {
		t.Errorf("details.autoEnabled = %v, want true", resp.Details["autoEnabled"])
	}

	post, err := env.store.GetPost(context.Background(), "post_1")
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if !post.AutomationEnabled {
		t.Error("stored automation_enabled should be true after the sandbox auto-enable")
	}
}

func TestWebhook_DisabledRejectsLive(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPost(t, domain.Post{
		ID:                "post_1",
		AutomationEnabled: false,
		Link:              strPtr("https://example.com/offer"),
	})

	status, resp := env.postWebhook(t,
		`{"ig_post_id":"post_1","provider":"live","comment_text":"LINK"}`)

	if status != http.StatusConflict || resp.Code != "AUTOMATION_DISABLED" {
		t.Errorf("status = %d, code = %s, want 409 AUTOMATION_DISABLED", status, resp.Code)
	}
}

func TestWebhook_NoLinkAvailable(t *testing.T) {
	env := setupTestEnv(t)
	// Account without a default link, post without an override.
	if err := env.store.UpsertAccount(context.Background(), &domain.Account{ID: "acct_bare"}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := env.store.UpsertPost(context.Background(), &domain.Post{
		ID: "post_1", AccountID: "acct_bare", AutomationEnabled: true,
	}); err != nil {
		t.Fatalf("seed post: %v", err)
	}

	status, resp := env.postWebhook(t, `{"ig_post_id":"post_1","comment_text":"LINK"}`)

	if status != http.StatusUnprocessableEntity || resp.Code != "NO_LINK_AVAILABLE" {
		t.Fatalf("status = %d, code = %s, want 422 NO_LINK_AVAILABLE", status, resp.Code)
	}
	for _, ev := range env.listActivity(t, "post_1") {
		if ev.Matched {
			t.Error("no audit outcome may be recorded as matched")
		}
	}
}

func TestWebhook_RateLimitConcurrent(t *testing.T) {
	env := setupTestEnv(t)
	env.seedPost(t, domain.Post{
		ID:                "post_1",
		AutomationEnabled: true,
		Link:              strPtr("https://example.com/offer"),
	})

	const workers = 20
	var wg sync.WaitGroup
	codes := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			body := fmt.Sprintf(
				`{"ig_post_id":"post_1","comment_text":"LINK","comment_id":"burst_%d","window":"fresh_window"}`, n)
			req := httptest.NewRequest(http.MethodPost, "/api/webhook/comment", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := env.app.Test(req, 10000)
			if err != nil {
				t.Errorf("app.Test() error = %v", err)
				return
			}
			defer resp.Body.Close()

			var e envelope
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			codes <- e.Code
		}(i)
	}
	wg.Wait()
	close(codes)

	delivered, limited := 0, 0
	for code := range codes {
		switch code {
		case "SANDBOX_DM_LOGGED":
			delivered++
		case "RATE_LIMITED":
			limited++
		default:
			t.Errorf("unexpected code %s", code)
		}
	}

	if delivered < 1 || delivered > testRateMax {
		t.Errorf("delivered = %d, want between 1 and %d", delivered, testRateMax)
	}
	if limited < 1 {
		t.Error("at least one request must be rate limited")
	}
	if delivered+limited != workers {
		t.Errorf("delivered+limited = %d, want %d", delivered+limited, workers)
	}
}

func TestActivity_LimitValidation(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/activity?limit=0", nil)
	resp, err := env.app.Test(req, 10000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := env.app.Test(req, 10000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func (e *testEnv) listActivity(t *testing.T, postID string) []domain.ActivityEvent {
	t.Helper()
	events, err := e.store.ListActivity(context.Background(), postID, 100)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	return events
}
