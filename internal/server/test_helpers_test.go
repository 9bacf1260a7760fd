package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/assets"
	"github.com/MarcoPoloResearchLab/boxboard/internal/auth"
	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/MarcoPoloResearchLab/boxboard/internal/database"
	"github.com/MarcoPoloResearchLab/boxboard/internal/discord"
	"github.com/MarcoPoloResearchLab/boxboard/internal/metrics"
	"github.com/MarcoPoloResearchLab/boxboard/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testAdminInvite = "admin-invite"
	testOwnerInvite = "owner-invite"
	testWebAppURL   = "http://app.example.com"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testFixture struct {
	handler   http.Handler
	db        *gorm.DB
	clock     *testClock
	users     *users.Service
	boxes     *boxes.Service
	discord   *discord.Service
	botTokens *auth.TokenIssuer
	events    *BoxEventDispatcher
	metrics   *metrics.Metrics
	readiness *stubReadiness
}

type stubReadiness struct {
	mu    sync.Mutex
	ready bool
}

func (s *stubReadiness) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *stubReadiness) set(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

type fixtureOptions struct {
	provider discord.OAuthProvider
}

func newTestFixture(t *testing.T, options fixtureOptions) *testFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &testClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	databasePath := filepath.Join(t.TempDir(), "boxes.db")
	db, err := database.Open(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	initializer, err := database.NewInitializer(database.InitializerConfig{Database: db, Path: databasePath, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct initializer: %v", err)
	}
	if err := initializer.Run(context.Background()); err != nil {
		t.Fatalf("failed to initialize database: %v", err)
	}

	events := NewBoxEventDispatcher()
	appMetrics := metrics.New()

	userService, err := users.NewService(users.ServiceConfig{
		Database:        db,
		Clock:           clock.Now,
		AdminInviteCode: testAdminInvite,
		OwnerInviteCode: testOwnerInvite,
		PasswordCost:    bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct users service: %v", err)
	}
	boxService, err := boxes.NewService(boxes.ServiceConfig{
		Database: db,
		Clock:    clock.Now,
		Notifier: boxes.MultiNotifier{events, appMetrics},
	})
	if err != nil {
		t.Fatalf("failed to construct boxes service: %v", err)
	}
	assetService, err := assets.NewService(assets.ServiceConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct assets service: %v", err)
	}
	discordService, err := discord.NewService(discord.ServiceConfig{
		Database: db,
		Provider: options.provider,
		States:   discord.NewStateStore(discord.StateTTL, clock.Now),
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct discord service: %v", err)
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte("session-secret"),
		CookieName:    "boxboard_session",
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}
	botTokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("bot-secret"),
		Issuer:        auth.DefaultBotIssuer,
		Audience:      auth.DefaultBotAudience,
		TokenTTL:      time.Hour,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	readiness := &stubReadiness{ready: true}
	handler, err := NewHTTPHandler(Dependencies{
		Users:     userService,
		Boxes:     boxService,
		Assets:    assetService,
		Discord:   discordService,
		Sessions:  sessions,
		BotTokens: botTokens,
		Readiness: readiness,
		Events:    events,
		Limiter:   ratelimit.New(ratelimit.Config{Clock: clock.Now}),
		Metrics:   appMetrics,
		WebAppURL: testWebAppURL,
		Logger:    zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testFixture{
		handler:   handler,
		db:        db,
		clock:     clock,
		users:     userService,
		boxes:     boxService,
		discord:   discordService,
		botTokens: botTokens,
		events:    events,
		metrics:   appMetrics,
		readiness: readiness,
	}
}

type requestOption func(*http.Request)

func withCookie(cookie *http.Cookie) requestOption {
	return func(r *http.Request) {
		if cookie != nil {
			r.AddCookie(cookie)
		}
	}
}

func withBearer(token string) requestOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func (f *testFixture) do(t *testing.T, method, path string, body any, options ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for _, option := range options {
		option(request)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func sessionCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == "boxboard_session" && cookie.Value != "" {
			return cookie
		}
	}
	t.Fatalf("expected session cookie in response, headers: %v", recorder.Header())
	return nil
}

// signup registers an account and returns its id and session cookie.
func (f *testFixture) signup(t *testing.T, username, invite string) (uint, *http.Cookie) {
	t.Helper()
	recorder := f.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"username":        username,
		"password":        "secret-pass",
		"adminInviteCode": invite,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("signup %s failed: %d %s", username, recorder.Code, recorder.Body.String())
	}
	var payload struct {
		User struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	decodeBody(t, recorder, &payload)
	return payload.User.ID, sessionCookie(t, recorder)
}

func (f *testFixture) botToken(t *testing.T) string {
	t.Helper()
	token, _, err := f.botTokens.IssueServiceToken(context.Background(), "discord-bot")
	if err != nil {
		t.Fatalf("failed to issue bot token: %v", err)
	}
	return token
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	expectStatus(t, recorder, status)
	var payload struct {
		Error string `json:"error"`
	}
	decodeBody(t, recorder, &payload)
	if payload.Error != message {
		t.Fatalf("expected error %q, got %q", message, payload.Error)
	}
}
