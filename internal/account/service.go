package account

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"skin-accounts/internal/provider"
	"skin-accounts/internal/secure"
	"skin-accounts/internal/session"
)

const tokenLifetime = 86360 * time.Second

type Store interface {
	Insert(ctx context.Context, account Account) (int64, error)
	FindEnabledByProfile(ctx context.Context, accountType provider.AccountType, uuid string) (Account, error)
	FindByLogin(ctx context.Context, accountType provider.AccountType, uuid, login string) (Account, error)
	FindByID(ctx context.Context, id int64, uuid, login string) (Account, error)
	Update(ctx context.Context, account Account) error
	Delete(ctx context.Context, id int64) error
}

type PasswordSealer interface {
	Encrypt(plaintext string) (string, error)
}

type Service struct {
	store  Store
	sealer PasswordSealer
	logger *zap.Logger
	server string
	now    func() time.Time
}

func NewService(store Store, sealer PasswordSealer, logger *zap.Logger, server string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		sealer: sealer,
		logger: logger,
		server: server,
		now:    time.Now,
	}
}

type CreateInput struct {
	Identity session.Identity
	Profile  provider.Profile
	Password string
	IP       string
}

// Create persists a confirmed identity as a new enabled account. The id is
// assigned by the database.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if !in.Identity.Type.Valid() {
		return Account{}, fmt.Errorf("create account: unknown account type %q", in.Identity.Type)
	}
	uuid, err := secure.StripUUID(in.Profile.ID)
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}

	if _, err := s.store.FindEnabledByProfile(ctx, in.Identity.Type, uuid); err == nil {
		return Account{}, ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}

	sealed, err := s.sealer.Encrypt(in.Password)
	if err != nil {
		return Account{}, fmt.Errorf("encrypt password: %w", err)
	}

	now := s.now().UTC()
	account := Account{
		UUID:                  uuid,
		PlayerName:            in.Profile.Name,
		AccountType:           in.Identity.Type,
		Email:                 in.Identity.Email,
		Username:              in.Identity.Email,
		PasswordEncrypted:     sealed,
		ClientToken:           secure.MD5(in.Identity.Email + "_" + in.IP),
		AccessToken:           in.Identity.Token,
		AccessTokenExpiration: now.Add(tokenLifetime).Unix(),
		AccessTokenSource:     sourceFor(in.Identity.Type),
		Enabled:               true,
		RequestIP:             in.IP,
		RequestServer:         s.server,
		TimeAdded:             now.Unix(),
	}
	switch in.Identity.Type {
	case provider.AccountTypeMicrosoft:
		if xbox := in.Identity.Microsoft; xbox != nil {
			account.MicrosoftUserID = xbox.UserID
			account.MicrosoftAccessToken = xbox.AccessToken
			account.MicrosoftRefreshToken = xbox.RefreshToken
			account.MinecraftXboxUsername = xbox.Username
		}
	case provider.AccountTypeMojang:
		if in.Identity.Mojang != nil {
			account.MultiSecurity = in.Identity.Mojang.SecurityAnswers
		}
	}

	id, err := s.store.Insert(ctx, account)
	if err != nil {
		return Account{}, err
	}
	account.ID = id

	s.logger.Info("account_saved",
		zap.Int64("account_id", id),
		zap.String("account_type", string(account.AccountType)),
		zap.String("uuid", uuid),
	)
	return account, nil
}

// Find resolves the account owned by a staged identity.
func (s *Service) Find(ctx context.Context, identity session.Identity, profileID string) (Account, error) {
	uuid, err := secure.StripUUID(profileID)
	if err != nil {
		return Account{}, ErrNotFound
	}
	return s.store.FindByLogin(ctx, identity.Type, uuid, identity.Email)
}

// Update refreshes the credentials of an existing account from a new login.
// A replacement password shorter than four characters is ignored.
func (s *Service) Update(ctx context.Context, account Account, identity session.Identity, password string) (Account, error) {
	if len(password) > 3 {
		sealed, err := s.sealer.Encrypt(password)
		if err != nil {
			return Account{}, fmt.Errorf("encrypt password: %w", err)
		}
		account.PasswordEncrypted = sealed
	}

	if identity.Token != "" {
		account.AccessToken = identity.Token
		account.AccessTokenSource = sourceFor(identity.Type)
		account.AccessTokenExpiration = s.now().UTC().Add(tokenLifetime).Unix()
	}

	switch identity.Type {
	case provider.AccountTypeMojang:
		if identity.Mojang != nil && len(identity.Mojang.SecurityAnswers) > 0 {
			account.MultiSecurity = identity.Mojang.SecurityAnswers
		}
	case provider.AccountTypeMicrosoft:
		if xbox := identity.Microsoft; xbox != nil {
			if xbox.AccessToken != "" {
				account.MicrosoftAccessToken = xbox.AccessToken
			}
			if xbox.RefreshToken != "" {
				account.MicrosoftRefreshToken = xbox.RefreshToken
			}
		}
	}
	account.DiscordMessageSent = false

	if err := s.store.Update(ctx, account); err != nil {
		return Account{}, err
	}
	s.logger.Info("account_updated",
		zap.Int64("account_id", account.ID),
		zap.String("account_type", string(account.AccountType)),
		zap.String("uuid", account.UUID),
	)
	return account, nil
}

// SetSetting applies a named owner setting. "status" toggles enabled and
// "emails" toggles notification mails.
func (s *Service) SetSetting(ctx context.Context, account Account, name string, value bool) (Account, error) {
	switch strings.TrimSpace(name) {
	case "status":
		account.Enabled = value
	case "emails":
		account.SendEmails = value
	default:
		return Account{}, ErrUnknownSetting
	}
	if err := s.store.Update(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (s *Service) Delete(ctx context.Context, account Account) error {
	if account.Enabled {
		return ErrAccountEnabled
	}
	if err := s.store.Delete(ctx, account.ID); err != nil {
		return err
	}
	s.logger.Info("account_removed", zap.Int64("account_id", account.ID), zap.String("uuid", account.UUID))
	return nil
}

// LinkDiscord binds a Discord user id to an account, replacing any earlier
// link.
func (s *Service) LinkDiscord(ctx context.Context, id int64, uuid, login, discordID string) (Account, error) {
	account, err := s.store.FindByID(ctx, id, uuid, login)
	if err != nil {
		return Account{}, err
	}
	if account.DiscordUser != nil && *account.DiscordUser != "" && *account.DiscordUser != discordID {
		s.logger.Warn("discord_link_replaced",
			zap.Int64("account_id", account.ID),
			zap.String("previous_discord_user", *account.DiscordUser),
			zap.String("discord_user", discordID),
		)
	}
	account.DiscordUser = &discordID
	if err := s.store.Update(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

func Summarize(account Account) Summary {
	email := account.Email
	if email == "" {
		email = account.Username
	}

	var rate float64
	if total := account.SuccessCounter + account.ErrorCounter; total > 0 {
		rate = math.Round(float64(account.SuccessCounter)/float64(total)*1000) / 1000
	}

	return Summary{
		Type:          account.AccountType,
		Username:      account.Username,
		Email:         email,
		UUID:          account.UUID,
		LastUsed:      account.LastUsed,
		Enabled:       account.Enabled,
		SuccessRate:   rate,
		SuccessStreak: int(math.Round(float64(account.SuccessCounter)/10)) * 10,
		DiscordLinked: account.DiscordUser != nil && *account.DiscordUser != "",
		SendEmails:    account.SendEmails,
		Settings: SummarySettings{
			Enabled: account.Enabled,
			Emails:  account.SendEmails,
		},
	}
}
