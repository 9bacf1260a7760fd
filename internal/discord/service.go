package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/users"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Link failure codes, surfaced to the browser as ?error=<code>.
const (
	CodeOAuthDenied         = "oauth_denied"
	CodeInvalidState        = "invalid_state"
	CodeNoCode              = "no_code"
	CodeTokenExchangeFailed = "token_exchange_failed"
	CodeUserFetchFailed     = "user_fetch_failed"
	CodeAlreadyLinked       = "discord_already_linked"
	CodeLinkFailed          = "link_failed"
	CodeDatabaseError       = "database_error"
)

const defaultTokenLifetime = time.Hour

var (
	// ErrAlreadyLinked indicates the account already carries a Discord identity.
	ErrAlreadyLinked = errors.New("discord: account already linked")
	// ErrUserNotFound indicates no account matches the lookup.
	ErrUserNotFound = errors.New("discord: user not found")
	// ErrMissingDiscordUserID indicates a blank Discord id.
	ErrMissingDiscordUserID = errors.New("discord: discord user id required")
	// ErrMissingCommandName indicates a command log without a command.
	ErrMissingCommandName = errors.New("discord: command name required")
)

// LinkError is a failed callback step. Code is one of the Code* constants.
type LinkError struct {
	Code string
	Err  error
}

func (e *LinkError) Error() string {
	if e.Err == nil {
		return "discord link failed: " + e.Code
	}
	return fmt.Sprintf("discord link failed: %s: %v", e.Code, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func linkFailure(code string, cause error) error {
	return &LinkError{Code: code, Err: cause}
}

// OAuthProvider is the Discord side of the authorization-code flow.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (Profile, error)
}

// ServiceConfig describes the dependencies of the link service.
type ServiceConfig struct {
	Database *gorm.DB
	Provider OAuthProvider
	States   *StateStore
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service links board accounts to Discord identities and records bot activity.
type Service struct {
	db       *gorm.DB
	provider OAuthProvider
	states   *StateStore
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the link service. Provider may be nil when OAuth is not configured;
// lookups and command logging still work.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("discord: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	states := cfg.States
	if states == nil {
		states = NewStateStore(StateTTL, clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		provider: cfg.Provider,
		states:   states,
		clock:    clock,
		logger:   logger,
	}, nil
}

// OAuthEnabled reports whether a provider is configured.
func (s *Service) OAuthEnabled() bool {
	return s.provider != nil
}

// States exposes the nonce store so it can be swept on a schedule.
func (s *Service) States() *StateStore {
	return s.states
}

// Initiate starts a link attempt for userID and returns the provider URL to redirect to.
func (s *Service) Initiate(ctx context.Context, userID uint) (string, error) {
	if s.provider == nil {
		return "", errors.New("discord: oauth provider not configured")
	}
	status, err := s.Status(ctx, userID)
	if err != nil {
		return "", err
	}
	if status.IsLinked {
		return "", ErrAlreadyLinked
	}
	state, err := s.states.Issue(userID)
	if err != nil {
		return "", fmt.Errorf("discord: issue state: %w", err)
	}
	return s.provider.AuthCodeURL(state), nil
}

// CallbackParams carries the query parameters of the provider redirect.
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// LinkResult describes a completed link.
type LinkResult struct {
	UserID  uint
	Profile Profile
}

// Complete finishes a link attempt. Failures are *LinkError values carrying the redirect code.
func (s *Service) Complete(ctx context.Context, params CallbackParams) (LinkResult, error) {
	if strings.TrimSpace(params.Error) != "" {
		return LinkResult{}, linkFailure(CodeOAuthDenied, errors.New(params.Error))
	}
	state := strings.TrimSpace(params.State)
	if state == "" {
		return LinkResult{}, linkFailure(CodeInvalidState, errStateUnknown)
	}
	userID, err := s.states.Consume(state)
	if err != nil {
		return LinkResult{}, linkFailure(CodeInvalidState, err)
	}
	if strings.TrimSpace(params.Code) == "" {
		return LinkResult{}, linkFailure(CodeNoCode, nil)
	}
	if s.provider == nil {
		return LinkResult{}, linkFailure(CodeTokenExchangeFailed, errors.New("oauth provider not configured"))
	}

	token, err := s.provider.Exchange(ctx, params.Code)
	if err != nil {
		s.logger.Warn("discord token exchange failed", zap.Uint("user_id", userID), zap.Error(err))
		return LinkResult{}, linkFailure(CodeTokenExchangeFailed, err)
	}

	profile, err := s.provider.FetchProfile(ctx, token)
	if err != nil {
		s.logger.Warn("discord profile fetch failed", zap.Uint("user_id", userID), zap.Error(err))
		return LinkResult{}, linkFailure(CodeUserFetchFailed, err)
	}

	existing, err := s.findByDiscordID(ctx, profile.ID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return LinkResult{}, linkFailure(CodeDatabaseError, err)
	}
	if existing != nil && existing.ID != userID {
		return LinkResult{}, linkFailure(CodeAlreadyLinked, nil)
	}

	if err := s.writeLink(ctx, userID, profile); err != nil {
		if isUniqueViolation(err) {
			return LinkResult{}, linkFailure(CodeAlreadyLinked, err)
		}
		s.logger.Error("discord link write failed", zap.Uint("user_id", userID), zap.Error(err))
		return LinkResult{}, linkFailure(CodeLinkFailed, err)
	}

	if err := s.storeToken(ctx, userID, token); err != nil {
		s.logger.Warn("discord token store failed", zap.Uint("user_id", userID), zap.Error(err))
	}

	s.logger.Info("discord account linked",
		zap.Uint("user_id", userID),
		zap.String("discord_user_id", profile.ID))
	return LinkResult{UserID: userID, Profile: profile}, nil
}

// Unlink clears the Discord identity and stored tokens. It is idempotent.
func (s *Service) Unlink(ctx context.Context, userID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&users.User{}).Where("id = ?", userID).Updates(map[string]any{
			"discord_user_id":   nil,
			"discord_username":  nil,
			"discord_avatar":    nil,
			"discord_linked_at": nil,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return tx.Where("user_id = ?", userID).Delete(&Token{}).Error
	})
	if err != nil {
		return err
	}
	s.logger.Info("discord account unlinked", zap.Uint("user_id", userID))
	return nil
}

// Status reports the link state of an account.
func (s *Service) Status(ctx context.Context, userID uint) (LinkStatus, error) {
	var user users.User
	err := s.db.WithContext(ctx).Take(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LinkStatus{}, ErrUserNotFound
	}
	if err != nil {
		return LinkStatus{}, err
	}
	return LinkStatus{
		IsLinked:        user.IsDiscordLinked(),
		DiscordUserID:   user.DiscordUserID,
		DiscordUsername: user.DiscordUsername,
		DiscordAvatar:   user.DiscordAvatar,
		LinkedAt:        user.DiscordLinkedAt,
	}, nil
}

// LookupByDiscordID resolves the account linked to a Discord id.
func (s *Service) LookupByDiscordID(ctx context.Context, discordUserID string) (users.User, error) {
	user, err := s.findByDiscordID(ctx, discordUserID)
	if err != nil {
		return users.User{}, err
	}
	return *user, nil
}

// LinkedUserView projects an account for the bot.
func LinkedUserView(user users.User) LinkedUser {
	return LinkedUser{
		ID:              user.ID,
		Username:        user.Username,
		UserLevel:       string(user.Role),
		DiscordUsername: user.DiscordUsername,
		DiscordLinkedAt: user.DiscordLinkedAt,
	}
}

// LogCommand appends a command usage record, resolving the internal user when linked.
func (s *Service) LogCommand(ctx context.Context, entry CommandLog) error {
	entry.DiscordUserID = strings.TrimSpace(entry.DiscordUserID)
	if entry.DiscordUserID == "" {
		return ErrMissingDiscordUserID
	}
	entry.CommandName = strings.TrimSpace(entry.CommandName)
	if entry.CommandName == "" {
		return ErrMissingCommandName
	}
	if entry.UserID == nil {
		if user, err := s.findByDiscordID(ctx, entry.DiscordUserID); err == nil {
			id := user.ID
			entry.UserID = &id
		}
	}
	entry.ID = 0
	entry.ExecutedAt = s.clock().UTC()
	return s.db.WithContext(ctx).Create(&entry).Error
}

// RecentCommands returns the newest command logs for a Discord user.
func (s *Service) RecentCommands(ctx context.Context, discordUserID string, limit int) ([]CommandLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []CommandLog
	err := s.db.WithContext(ctx).
		Where("discord_user_id = ?", strings.TrimSpace(discordUserID)).
		Order("executed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

func (s *Service) findByDiscordID(ctx context.Context, discordUserID string) (*users.User, error) {
	discordUserID = strings.TrimSpace(discordUserID)
	if discordUserID == "" {
		return nil, ErrMissingDiscordUserID
	}
	var user users.User
	err := s.db.WithContext(ctx).Where("discord_user_id = ?", discordUserID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) writeLink(ctx context.Context, userID uint, profile Profile) error {
	result := s.db.WithContext(ctx).Model(&users.User{}).Where("id = ?", userID).Updates(map[string]any{
		"discord_user_id":   profile.ID,
		"discord_username":  profile.DisplayName(),
		"discord_avatar":    profile.Avatar,
		"discord_linked_at": s.clock().UTC(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) storeToken(ctx context.Context, userID uint, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return nil
	}
	now := s.clock().UTC()
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultTokenLifetime)
	}
	scope := scopeIdentify
	if raw, ok := token.Extra("scope").(string); ok && raw != "" {
		scope = raw
	}
	var refresh *string
	if token.RefreshToken != "" {
		value := token.RefreshToken
		refresh = &value
	}
	record := Token{
		UserID:           userID,
		AccessToken:      token.AccessToken,
		RefreshToken:     refresh,
		TokenType:        token.Type(),
		ExpiresAtSeconds: expiresAt.Unix(),
		Scope:            scope,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "token_type", "expires_at_s", "scope", "updated_at"}),
	}).Create(&record).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
