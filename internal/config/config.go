package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "BOXBOARD"
	defaultHTTPAddress       = "0.0.0.0:3000"
	defaultDatabasePath      = "boxes.db"
	defaultLogLevel          = "info"
	defaultCookieName        = "boxboard_session"
	defaultWebAppURL         = "http://localhost:3000"
	defaultDiscordAuthorize  = "https://discord.com/api/oauth2/authorize"
	defaultDiscordToken      = "https://discord.com/api/oauth2/token"
	defaultDiscordAPIBase    = "https://discord.com/api"
	defaultRateLimitWindow   = 15 * time.Minute
	defaultRateLimitRequests = 10
	defaultBotAPIBaseURL     = "http://localhost:3000/api"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	Production      bool
	SessionSecret   string
	CookieName      string
	CleanupSchedule string
	AdminInviteCode string
	OwnerInviteCode string
	WebAppURL       string
	Discord         DiscordConfig
	RateLimit       RateLimitConfig
	Bot             BotConfig
}

// DiscordConfig holds the OAuth2 application credentials and provider endpoints.
type DiscordConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
}

// Enabled reports whether enough credentials are present to run the link flow.
func (d DiscordConfig) Enabled() bool {
	return d.ClientID != "" && d.ClientSecret != "" && d.RedirectURI != ""
}

// RateLimitConfig bounds attempts against the Discord link endpoints.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// BotConfig configures bot service tokens and the bot's view of the API.
type BotConfig struct {
	APISecret  string
	APIBaseURL string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("app.production", false)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("sessions.cleanup_schedule", "")
	configViper.SetDefault("web.app_url", defaultWebAppURL)
	configViper.SetDefault("discord.authorize_url", defaultDiscordAuthorize)
	configViper.SetDefault("discord.token_url", defaultDiscordToken)
	configViper.SetDefault("discord.api_base_url", defaultDiscordAPIBase)
	configViper.SetDefault("rate_limit.window", defaultRateLimitWindow)
	configViper.SetDefault("rate_limit.max_requests", defaultRateLimitRequests)
	configViper.SetDefault("bot.api_base_url", defaultBotAPIBaseURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		Production:      configViper.GetBool("app.production"),
		SessionSecret:   configViper.GetString("session.secret"),
		CookieName:      configViper.GetString("session.cookie_name"),
		CleanupSchedule: strings.TrimSpace(configViper.GetString("sessions.cleanup_schedule")),
		AdminInviteCode: configViper.GetString("invite.admin_code"),
		OwnerInviteCode: configViper.GetString("invite.owner_code"),
		WebAppURL:       strings.TrimRight(configViper.GetString("web.app_url"), "/"),
		Discord: DiscordConfig{
			ClientID:     strings.TrimSpace(configViper.GetString("discord.client_id")),
			ClientSecret: strings.TrimSpace(configViper.GetString("discord.client_secret")),
			RedirectURI:  strings.TrimSpace(configViper.GetString("discord.redirect_uri")),
			AuthorizeURL: configViper.GetString("discord.authorize_url"),
			TokenURL:     configViper.GetString("discord.token_url"),
			APIBaseURL:   strings.TrimRight(configViper.GetString("discord.api_base_url"), "/"),
		},
		RateLimit: RateLimitConfig{
			Window:      configViper.GetDuration("rate_limit.window"),
			MaxRequests: configViper.GetInt("rate_limit.max_requests"),
		},
		Bot: BotConfig{
			APISecret:  configViper.GetString("bot.api_secret"),
			APIBaseURL: strings.TrimRight(configViper.GetString("bot.api_base_url"), "/"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("session.secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if _, err := url.ParseRequestURI(c.WebAppURL); err != nil {
		return fmt.Errorf("web.app_url is invalid: %w", err)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive")
	}
	if c.AdminInviteCode != "" && c.AdminInviteCode == c.OwnerInviteCode {
		return fmt.Errorf("invite.admin_code and invite.owner_code must differ")
	}
	return nil
}
