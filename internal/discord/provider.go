package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	DefaultAuthorizeURL = "https://discord.com/api/oauth2/authorize"
	DefaultTokenURL     = "https://discord.com/api/oauth2/token"
	DefaultAPIBaseURL   = "https://discord.com/api"

	scopeIdentify         = "identify"
	defaultRequestTimeout = 10 * time.Second
)

var (
	ErrInvalidProviderConfig = errors.New("discord: invalid provider config")

	errMissingClientID     = errors.New("client id is required")
	errMissingClientSecret = errors.New("client secret is required")
	errMissingRedirectURI  = errors.New("redirect uri is required")
)

// ProviderConfig describes the Discord OAuth application and its endpoints.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Provider runs the authorization-code exchange and profile lookup against Discord.
type Provider struct {
	oauth      *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewProvider validates configuration and constructs a Provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingClientID)
	}
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingClientSecret)
	}
	redirectURI := strings.TrimSpace(cfg.RedirectURI)
	if redirectURI == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingRedirectURI)
	}

	authorizeURL := firstNonEmpty(cfg.AuthorizeURL, DefaultAuthorizeURL)
	tokenURL := firstNonEmpty(cfg.TokenURL, DefaultTokenURL)
	apiBaseURL := strings.TrimRight(firstNonEmpty(cfg.APIBaseURL, DefaultAPIBaseURL), "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       []string{scopeIdentify},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authorizeURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBaseURL: apiBaseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// AuthCodeURL builds the authorization redirect for state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	return p.oauth.Exchange(ctx, code)
}

// FetchProfile loads the Discord user the token belongs to.
func (p *Provider) FetchProfile(ctx context.Context, token *oauth2.Token) (Profile, error) {
	if token == nil || token.AccessToken == "" {
		return Profile{}, errors.New("discord: access token required")
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/users/@me", nil)
	if err != nil {
		return Profile{}, err
	}
	token.SetAuthHeader(request)

	response, err := p.httpClient.Do(request)
	if err != nil {
		return Profile{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("discord: profile request returned status %d", response.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(response.Body).Decode(&profile); err != nil {
		return Profile{}, err
	}
	if profile.ID == "" {
		return Profile{}, errors.New("discord: profile missing id")
	}
	p.logger.Debug("discord profile fetched", zap.String("discord_user_id", profile.ID))
	return profile, nil
}

func firstNonEmpty(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
