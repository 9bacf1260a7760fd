package users

import (
	"strings"
	"time"
)

// Role is the access level stored in users.user_level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// ParseRole validates a textual role.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.TrimSpace(value)) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	case RoleOwner:
		return RoleOwner, true
	default:
		return "", false
	}
}

// IsAdmin reports whether the role grants admin routes. Owners inherit admin rights.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleOwner
}

// User is a board account. Discord columns are filled by the link flow.
type User struct {
	ID              uint       `gorm:"column:id;primaryKey;autoIncrement"`
	Username        string     `gorm:"column:username;not null;uniqueIndex"`
	PasswordHash    string     `gorm:"column:password_hash;not null"`
	Role            Role       `gorm:"column:user_level;size:16;not null;default:user;check:user_level IN ('user','admin','owner')"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	DiscordUserID   *string    `gorm:"column:discord_user_id;size:32;uniqueIndex:idx_users_discord_user_id_unique"`
	DiscordUsername *string    `gorm:"column:discord_username;size:64"`
	DiscordAvatar   *string    `gorm:"column:discord_avatar;size:128"`
	DiscordLinkedAt *time.Time `gorm:"column:discord_linked_at"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// IsDiscordLinked reports whether an external identity is attached.
func (u User) IsDiscordLinked() bool {
	return u.DiscordUserID != nil && *u.DiscordUserID != ""
}

// Session maps an opaque token to a user until ExpiresAtSeconds.
type Session struct {
	ID               uint      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID           uint      `gorm:"column:user_id;not null;index"`
	Token            string    `gorm:"column:session_token;size:64;not null;uniqueIndex"`
	ExpiresAtSeconds int64     `gorm:"column:expires_at_s;not null;index"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}

// View is the public projection of a user returned by the API.
type View struct {
	ID              uint       `json:"id"`
	Username        string     `json:"username"`
	Role            Role       `json:"role"`
	CreatedAt       time.Time  `json:"created_at"`
	DiscordLinked   bool       `json:"discord_linked"`
	DiscordUsername *string    `json:"discord_username,omitempty"`
	DiscordLinkedAt *time.Time `json:"discord_linked_at,omitempty"`
}

// ToView strips credentials from the user row.
func (u User) ToView() View {
	return View{
		ID:              u.ID,
		Username:        u.Username,
		Role:            u.Role,
		CreatedAt:       u.CreatedAt,
		DiscordLinked:   u.IsDiscordLinked(),
		DiscordUsername: u.DiscordUsername,
		DiscordLinkedAt: u.DiscordLinkedAt,
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
