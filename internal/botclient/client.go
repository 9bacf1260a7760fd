package botclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/boxes"
	"github.com/MarcoPoloResearchLab/boxboard/internal/discord"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultSubject identifies the bot in service tokens.
const DefaultSubject = "discord-bot"

const (
	defaultTimeout      = 10 * time.Second
	defaultRequestRate  = rate.Limit(5)
	defaultRequestBurst = 5
)

var (
	errMissingBaseURL     = errors.New("botclient: api base url required")
	errMissingTokenSource = errors.New("botclient: token source required")
	errMissingIssuer      = errors.New("botclient: token issuer required")
)

// ServiceTokenIssuer mints bearer tokens for the bot. auth.TokenIssuer satisfies it.
type ServiceTokenIssuer interface {
	IssueServiceToken(ctx context.Context, subject string) (string, int64, error)
}

type issuerTokenSource struct {
	issuer  ServiceTokenIssuer
	subject string
	clock   func() time.Time
}

// NewTokenSource adapts a ServiceTokenIssuer to oauth2.TokenSource. Tokens are reused until they
// near expiry.
func NewTokenSource(issuer ServiceTokenIssuer, subject string, clock func() time.Time) (oauth2.TokenSource, error) {
	if issuer == nil {
		return nil, errMissingIssuer
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	if clock == nil {
		clock = time.Now
	}
	return oauth2.ReuseTokenSource(nil, &issuerTokenSource{issuer: issuer, subject: subject, clock: clock}), nil
}

func (s *issuerTokenSource) Token() (*oauth2.Token, error) {
	signed, lifetimeSeconds, err := s.issuer.IssueServiceToken(context.Background(), s.subject)
	if err != nil {
		return nil, fmt.Errorf("botclient: issue service token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      s.clock().Add(time.Duration(lifetimeSeconds) * time.Second),
	}, nil
}

// APIError is a non-2xx response from the board API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("botclient: api returned %d", e.Status)
	}
	return fmt.Sprintf("botclient: api returned %d: %s", e.Status, e.Message)
}

// Config describes how the bot reaches the board API.
type Config struct {
	// BaseURL is the API root including the /api prefix.
	BaseURL      string
	Tokens       oauth2.TokenSource
	HTTPClient   *http.Client
	Logger       *zap.Logger
	// RequestRate and RequestBurst throttle outbound calls; zero selects the defaults.
	RequestRate  rate.Limit
	RequestBurst int
}

// Client calls the board API on behalf of Discord users.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// New constructs a Client whose requests carry a bot service token.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("botclient: invalid base url: %w", err)
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokenSource
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultTimeout}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	requestRate := cfg.RequestRate
	if requestRate <= 0 {
		requestRate = defaultRequestRate
	}
	requestBurst := cfg.RequestBurst
	if requestBurst <= 0 {
		requestBurst = defaultRequestBurst
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   base.Timeout,
			Transport: &oauth2.Transport{Source: cfg.Tokens, Base: transport},
		},
		logger:  logger,
		limiter: rate.NewLimiter(requestRate, requestBurst),
	}, nil
}

// Health probes the server health endpoint, which lives outside the /api prefix.
func (c *Client) Health(ctx context.Context) error {
	target := strings.TrimSuffix(c.baseURL, "/api") + "/healthz"
	var payload struct {
		Status string `json:"status"`
		Ready  bool   `json:"ready"`
	}
	if err := c.doURL(ctx, http.MethodGet, target, nil, &payload); err != nil {
		return err
	}
	if !payload.Ready {
		return &APIError{Status: http.StatusServiceUnavailable, Message: "database_not_ready"}
	}
	return nil
}

// ListBoxes returns the board.
func (c *Client) ListBoxes(ctx context.Context) ([]boxes.BoxView, error) {
	var views []boxes.BoxView
	if err := c.do(ctx, http.MethodGet, "/boxes", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// GetBox returns one box with its pending applications.
func (c *Client) GetBox(ctx context.Context, boxID uint) (boxes.BoxDetailView, error) {
	var view boxes.BoxDetailView
	err := c.do(ctx, http.MethodGet, "/boxes/"+strconv.FormatUint(uint64(boxID), 10), nil, &view)
	return view, err
}

// GetLinkedUser resolves a Discord id. It returns nil without error when no account is linked.
func (c *Client) GetLinkedUser(ctx context.Context, discordUserID string) (*discord.LinkedUser, error) {
	var linked discord.LinkedUser
	err := c.do(ctx, http.MethodGet, "/discord/user/"+url.PathEscape(discordUserID), nil, &linked)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &linked, nil
}

type boxRequest struct {
	DiscordUserID string   `json:"discordUserId"`
	Conditions    []string `json:"conditions"`
}

// Apply submits an application for the linked account and returns its id.
func (c *Client) Apply(ctx context.Context, boxID uint, discordUserID string, conditions []string) (uint, error) {
	var result struct {
		ApplicationID uint `json:"applicationId"`
	}
	path := "/discord/boxes/" + strconv.FormatUint(uint64(boxID), 10) + "/apply"
	if err := c.do(ctx, http.MethodPost, path, boxRequest{DiscordUserID: discordUserID, Conditions: conditions}, &result); err != nil {
		return 0, err
	}
	return result.ApplicationID, nil
}

// Hold makes the linked account the holder of the box.
func (c *Client) Hold(ctx context.Context, boxID uint, discordUserID string, conditions []string) error {
	path := "/discord/boxes/" + strconv.FormatUint(uint64(boxID), 10) + "/hold"
	return c.do(ctx, http.MethodPost, path, boxRequest{DiscordUserID: discordUserID, Conditions: conditions}, nil)
}

// CommandReport is one slash-command or button invocation.
type CommandReport struct {
	DiscordUserID  string         `json:"discordUserId"`
	CommandName    string         `json:"commandName"`
	CommandOptions map[string]any `json:"commandOptions,omitempty"`
	Success        bool           `json:"success"`
	ErrorMessage   *string        `json:"errorMessage,omitempty"`
	ResponseTime   *int64         `json:"responseTime,omitempty"`
	GuildID        *string        `json:"guildId,omitempty"`
	ChannelID      *string        `json:"channelId,omitempty"`
}

// LogCommand reports usage. Failures are logged and never returned to the command handler.
func (c *Client) LogCommand(ctx context.Context, report CommandReport) {
	if err := c.do(ctx, http.MethodPost, "/discord/log-command", report, nil); err != nil {
		c.logger.Warn("failed to log command usage",
			zap.String("discord_user_id", report.DiscordUserID),
			zap.String("command", report.CommandName),
			zap.Error(err))
	}
}

// Submit sends a confirmed interaction as an application or a hold.
func (c *Client) Submit(ctx context.Context, discordUserID string, interaction Interaction, selected []string) error {
	if interaction.Action == ActionHold {
		return c.Hold(ctx, interaction.BoxID, discordUserID, selected)
	}
	_, err := c.Apply(ctx, interaction.BoxID, discordUserID, selected)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	return c.doURL(ctx, method, c.baseURL+path, body, target)
}

func (c *Client) doURL(ctx context.Context, method, target string, body, result any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("botclient: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("botclient: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("botclient: throttle: %w", err)
	}
	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("botclient: %s %s: %w", method, target, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(response.Body, 1<<16)).Decode(&failure)
		return &APIError{Status: response.StatusCode, Message: failure.Error}
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return fmt.Errorf("botclient: decode response: %w", err)
	}
	return nil
}
