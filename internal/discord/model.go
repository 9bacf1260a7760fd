package discord

import (
	"strings"
	"time"
)

// Token stores the OAuth tokens granted when an account was linked.
type Token struct {
	UserID           uint      `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	AccessToken      string    `gorm:"column:access_token;not null"`
	RefreshToken     *string   `gorm:"column:refresh_token"`
	TokenType        string    `gorm:"column:token_type;size:32;not null;default:Bearer"`
	ExpiresAtSeconds int64     `gorm:"column:expires_at_s"`
	Scope            string    `gorm:"column:scope;size:128"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Token) TableName() string {
	return "discord_auth_tokens"
}

// CommandLog is one append-only record of a bot command invocation.
type CommandLog struct {
	ID             uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DiscordUserID  string    `gorm:"column:discord_user_id;size:32;not null;index" json:"discordUserId"`
	UserID         *uint     `gorm:"column:user_id" json:"userId,omitempty"`
	CommandName    string    `gorm:"column:command_name;size:64;not null;index" json:"commandName"`
	CommandOptions string    `gorm:"column:command_options;type:text" json:"commandOptions"`
	Success        bool      `gorm:"column:success;not null" json:"success"`
	ErrorMessage   *string   `gorm:"column:error_message" json:"errorMessage,omitempty"`
	ResponseTimeMS *int64    `gorm:"column:response_time_ms" json:"responseTime,omitempty"`
	GuildID        *string   `gorm:"column:guild_id;size:32" json:"guildId,omitempty"`
	ChannelID      *string   `gorm:"column:channel_id;size:32" json:"channelId,omitempty"`
	ExecutedAt     time.Time `gorm:"column:executed_at;index" json:"executedAt"`
}

// TableName provides the explicit table binding for GORM.
func (CommandLog) TableName() string {
	return "discord_command_logs"
}

// Profile is the subset of the Discord /users/@me document used for linking.
type Profile struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	GlobalName    *string `json:"global_name"`
	Avatar        *string `json:"avatar"`
}

// DisplayName renders the stored username. Accounts migrated off discriminators
// report "0" and are shown without a suffix.
func (p Profile) DisplayName() string {
	discriminator := strings.TrimSpace(p.Discriminator)
	if discriminator == "" || discriminator == "0" {
		return p.Username
	}
	return p.Username + "#" + discriminator
}

// LinkStatus reports the Discord identity attached to an account.
type LinkStatus struct {
	IsLinked        bool       `json:"isLinked"`
	DiscordUserID   *string    `json:"discordUserId"`
	DiscordUsername *string    `json:"discordUsername"`
	DiscordAvatar   *string    `json:"discordAvatar"`
	LinkedAt        *time.Time `json:"linkedAt"`
}

// LinkedUser is the bot-facing projection of an account resolved by Discord id.
type LinkedUser struct {
	ID              uint       `json:"id"`
	Username        string     `json:"username"`
	UserLevel       string     `json:"userLevel"`
	DiscordUsername *string    `json:"discordUsername"`
	DiscordLinkedAt *time.Time `json:"discordLinkedAt"`
}
