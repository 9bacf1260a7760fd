package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/boxboard/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// SessionTTL is the fixed lifetime of a login session. Sessions never slide.
	SessionTTL = 365 * 24 * time.Hour

	minUsernameLength = 3
	minPasswordLength = 4
	// maxPasswordBytes is the longest input bcrypt accepts.
	maxPasswordBytes = 72
)

var (
	// ErrInvalidUsername indicates a username shorter than the minimum after trimming.
	ErrInvalidUsername = errors.New("users: username must be at least 3 characters")
	// ErrInvalidPassword indicates a password shorter than the minimum.
	ErrInvalidPassword = errors.New("users: password must be at least 4 characters")
	// ErrPasswordTooLong indicates a password bcrypt cannot hash.
	ErrPasswordTooLong = errors.New("users: password must be at most 72 bytes")
	// ErrDuplicateUsername indicates the unique username constraint tripped.
	ErrDuplicateUsername = errors.New("users: username already exists")
	// ErrInvalidRole indicates an unknown user level.
	ErrInvalidRole = errors.New("users: invalid user level")
	// ErrUserNotFound indicates no row for the requested id.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrMissingSessionToken indicates an empty session token.
	ErrMissingSessionToken = errors.New("users: session token required")
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	Logger          *zap.Logger
	AdminInviteCode string
	OwnerInviteCode string
	PasswordCost    int
}

// Service manages accounts, credentials and login sessions.
type Service struct {
	db           *gorm.DB
	now          func() time.Time
	logger       *zap.Logger
	adminCode    string
	ownerCode    string
	passwordCost int
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:           cfg.Database,
		now:          clock,
		logger:       logger,
		adminCode:    cfg.AdminInviteCode,
		ownerCode:    cfg.OwnerInviteCode,
		passwordCost: cfg.PasswordCost,
	}, nil
}

// RoleForInvite maps an invite code onto the role it grants.
func (s *Service) RoleForInvite(inviteCode string) Role {
	code := normalize(inviteCode)
	switch {
	case code == "":
		return RoleUser
	case s.ownerCode != "" && code == s.ownerCode:
		return RoleOwner
	case s.adminCode != "" && code == s.adminCode:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// CreateUser registers a new account. Usernames are case-sensitive.
func (s *Service) CreateUser(ctx context.Context, username, password, inviteCode string) (User, error) {
	name := normalize(username)
	if len(name) < minUsernameLength {
		return User{}, ErrInvalidUsername
	}
	if len(password) < minPasswordLength {
		return User{}, ErrInvalidPassword
	}
	if len(password) > maxPasswordBytes {
		return User{}, ErrPasswordTooLong
	}

	hash, err := auth.HashPassword(password, s.passwordCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}

	user := User{
		Username:     name,
		PasswordHash: hash,
		Role:         s.RoleForInvite(inviteCode),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateUsername
		}
		return User{}, err
	}

	s.logger.Info("user created", zap.Uint("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Authenticate verifies credentials. A mismatch yields (nil, nil), not an error.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", normalize(username)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, nil
	}
	return &user, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, userID uint) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Take(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// ListUsers returns every account, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&users).Error
	return users, err
}

// UpdateRole changes a user's level.
func (s *Service) UpdateRole(ctx context.Context, userID uint, role Role) error {
	if _, ok := ParseRole(string(role)); !ok {
		return ErrInvalidRole
	}
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("user_level", role)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.logger.Info("user level updated", zap.Uint("user_id", userID), zap.String("role", string(role)))
	return nil
}

// CreateSession issues a random opaque token valid for SessionTTL.
func (s *Service) CreateSession(ctx context.Context, userID uint) (Session, error) {
	session := Session{
		UserID:           userID,
		Token:            uuid.NewString(),
		ExpiresAtSeconds: s.now().UTC().Add(SessionTTL).Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return Session{}, err
	}
	return session, nil
}

// GetUserBySession resolves a token to its user while now < expiry; otherwise (nil, nil).
func (s *Service) GetUserBySession(ctx context.Context, token string) (*User, error) {
	token = normalize(token)
	if token == "" {
		return nil, ErrMissingSessionToken
	}
	var user User
	err := s.db.WithContext(ctx).
		Select("users.*").
		Joins("JOIN sessions ON sessions.user_id = users.id").
		Where("sessions.session_token = ? AND sessions.expires_at_s > ?", token, s.now().UTC().Unix()).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteSession removes a session token. Unknown tokens are ignored.
func (s *Service) DeleteSession(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("session_token = ?", normalize(token)).Delete(&Session{}).Error
}

// CleanExpiredSessions deletes every session past its expiry and reports how many were removed.
func (s *Service) CleanExpiredSessions(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at_s <= ?", s.now().UTC().Unix()).Delete(&Session{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.logger.Info("expired sessions removed", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
