package account

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"skin-accounts/internal/provider"
)

type AccessTokenSource string

const (
	SourceUserLoginMojang    AccessTokenSource = "user_login_mojang"
	SourceUserLoginMicrosoft AccessTokenSource = "user_login_microsoft"
	SourceOther              AccessTokenSource = "other"
)

func sourceFor(accountType provider.AccountType) AccessTokenSource {
	switch accountType {
	case provider.AccountTypeMojang:
		return SourceUserLoginMojang
	case provider.AccountTypeMicrosoft:
		return SourceUserLoginMicrosoft
	default:
		return SourceOther
	}
}

// SecurityAnswers is stored as a JSONB array.
type SecurityAnswers []provider.SecurityAnswer

func (s SecurityAnswers) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *SecurityAnswers) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan security answers: unsupported type %T", src)
	}
	return json.Unmarshal(data, s)
}

// Account is a pooled game account. All timestamps are epoch seconds.
type Account struct {
	ID          int64                `db:"id"`
	UUID        string               `db:"uuid"`
	PlayerName  string               `db:"playername"`
	AccountType provider.AccountType `db:"account_type"`

	Email                 string          `db:"email"`
	Username              string          `db:"username"`
	PasswordEncrypted     string          `db:"password_encrypted"`
	MultiSecurity         SecurityAnswers `db:"multi_security"`
	MicrosoftUserID       string          `db:"microsoft_user_id"`
	MicrosoftAccessToken  string          `db:"microsoft_access_token"`
	MicrosoftRefreshToken string          `db:"microsoft_refresh_token"`
	MinecraftXboxUsername string          `db:"minecraft_xbox_username"`
	ClientToken           string          `db:"client_token"`

	AccessToken           string            `db:"access_token"`
	AccessTokenExpiration int64             `db:"access_token_expiration"`
	AccessTokenSource     AccessTokenSource `db:"access_token_source"`

	Enabled             bool   `db:"enabled"`
	LastUsed            int64  `db:"last_used"`
	ForcedTimeoutAt     int64  `db:"forced_timeout_at"`
	SuccessCounter      int    `db:"success_counter"`
	ErrorCounter        int    `db:"error_counter"`
	TotalSuccessCounter int    `db:"total_success_counter"`
	TotalErrorCounter   int    `db:"total_error_counter"`
	RequestIP           string `db:"request_ip"`
	RequestServer       string `db:"request_server"`
	TimeAdded           int64  `db:"time_added"`

	DiscordUser        *string `db:"discord_user"`
	DiscordMessageSent bool    `db:"discord_message_sent"`
	SendEmails         bool    `db:"send_emails"`

	Hiatus
}

type Hiatus struct {
	Enabled    bool   `db:"hiatus_enabled"`
	Token      string `db:"hiatus_token"`
	LastLaunch int64  `db:"hiatus_last_launch"`
	LastPing   int64  `db:"hiatus_last_ping"`
}

// Summary is the account view returned to its owner.
type Summary struct {
	Type          provider.AccountType `json:"type"`
	Username      string               `json:"username"`
	Email         string               `json:"email"`
	UUID          string               `json:"uuid"`
	LastUsed      int64                `json:"lastUsed"`
	Enabled       bool                 `json:"enabled"`
	SuccessRate   float64              `json:"successRate"`
	SuccessStreak int                  `json:"successStreak"`
	DiscordLinked bool                 `json:"discordLinked"`
	SendEmails    bool                 `json:"sendEmails"`
	Settings      SummarySettings      `json:"settings"`
}

type SummarySettings struct {
	Enabled bool `json:"enabled"`
	Emails  bool `json:"emails"`
}

type ResetResult struct {
	ResetAccounts   int64 `db:"reset_accounts" json:"reset_accounts"`
	ClearedTimeouts int64 `db:"cleared_timeouts" json:"cleared_timeouts"`
}

var (
	ErrNotFound       = errors.New("account not found")
	ErrDuplicate      = errors.New("account already exists")
	ErrAccountEnabled = errors.New("account needs to be disabled first")
	ErrUnknownSetting = errors.New("unknown setting")
)
