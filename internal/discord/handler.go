package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"skin-accounts/internal/account"
	"skin-accounts/internal/respond"
	"skin-accounts/internal/secure"
	"skin-accounts/internal/session"
)

const (
	defaultLinkTTL      = 10 * time.Minute
	notificationTimeout = 15 * time.Second

	linkFailedMessage = "Uh oh! Looks like there was an issue linking your discord account! Make sure you've joined inventivetalent's discord server and try again"
	thanksMessage     = "Thanks for linking your Discord account to Mineskin! :)"
)

type OAuth interface {
	Configured() bool
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUser(ctx context.Context, token *oauth2.Token) (User, error)
}

type Notifier interface {
	AddOwnerRole(ctx context.Context, userID string) error
	DirectMessage(ctx context.Context, userID, content string) error
	Announce(ctx context.Context, content string) error
}

type Accounts interface {
	Find(ctx context.Context, identity session.Identity, profileID string) (account.Account, error)
	LinkDiscord(ctx context.Context, id int64, uuid, login, discordID string) (account.Account, error)
}

type SessionLoader interface {
	Load(ctx context.Context, r *http.Request) (*session.Context, error)
}

type ProfileValidator interface {
	Validate(ctx context.Context, accessToken, claimedUUID string) (session.Validation, error)
}

type Options struct {
	Sessions  SessionLoader
	Validator ProfileValidator
	Accounts  Accounts
	Links     LinkStore
	OAuth     OAuth
	Bot       Notifier
	LinkTTL   time.Duration
	Logger    *zap.Logger
}

type Handler struct {
	sessions  SessionLoader
	validator ProfileValidator
	accounts  Accounts
	links     LinkStore
	oauth     OAuth
	bot       Notifier
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time

	pending sync.WaitGroup
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.LinkTTL
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}
	return &Handler{
		sessions:  opts.Sessions,
		validator: opts.Validator,
		accounts:  opts.Accounts,
		links:     opts.Links,
		oauth:     opts.OAuth,
		bot:       opts.Bot,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /accountManager/discord/oauth/start", h.Start)
	mux.HandleFunc("GET /accountManager/discord/oauth/callback", h.Callback)
}

// Wait blocks until queued notifications finish or ctx is done.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) configured() bool {
	return h.oauth != nil && h.oauth.Configured()
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.configured() {
		respond.Error(w, http.StatusBadRequest, "server can't handle discord auth")
		return
	}
	query := r.URL.Query()

	sc, err := h.sessions.Load(r.Context(), r)
	if err != nil {
		respond.Internal(w, r, h.logger, "load_session_failed", err, "failed to load session")
		return
	}
	identity, err := sc.Authorize(query.Get("token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	email := strings.TrimSpace(query.Get("email"))
	if email == "" {
		respond.Error(w, http.StatusBadRequest, "missing credentials")
		return
	}
	// The pending link carries the staged email, which the callback uses
	// for the account lookup.
	if email != identity.Email {
		h.fail(w, r, session.ErrInvalidSession)
		return
	}

	validation, err := h.validator.Validate(r.Context(), identity.Token, query.Get("uuid"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	acc, err := h.accounts.Find(r.Context(), *identity, validation.Profile.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	state := h.newState(acc, identity.Email)
	link := PendingLink{State: state, Account: acc.ID, UUID: acc.UUID, Email: identity.Email}
	if err := h.links.Put(r.Context(), state, link, h.ttl); err != nil {
		respond.Internal(w, r, h.logger, "discord_link_store_failed", err, "failed to start discord auth")
		return
	}
	h.logger.Info("discord_link_started", zap.Int64("account_id", acc.ID), zap.String("uuid", acc.UUID))

	http.Redirect(w, r, h.oauth.AuthorizeURL(state), http.StatusFound)
}

// newState hashes account identity with a random component and the current
// time so states never repeat across attempts.
func (h *Handler) newState(acc account.Account, email string) string {
	return secure.SHA256(string(acc.AccountType) +
		acc.UUID +
		uuid.NewString() +
		email +
		strconv.FormatInt(h.now().UnixMilli(), 10) +
		strconv.FormatInt(acc.ID, 10))
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.configured() {
		respond.Error(w, http.StatusBadRequest, "server can't handle discord auth")
		return
	}
	query := r.URL.Query()
	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	link, ok, err := h.links.TakeOnce(r.Context(), state)
	if err != nil {
		respond.Internal(w, r, h.logger, "discord_link_take_failed", err, "failed to load discord auth")
		return
	}
	if !ok {
		respond.Error(w, http.StatusBadRequest, "invalid state")
		return
	}

	sc, err := h.sessions.Load(r.Context(), r)
	if err != nil {
		respond.Internal(w, r, h.logger, "load_session_failed", err, "failed to load session")
		return
	}
	if sc.Identity == nil {
		h.fail(w, r, session.ErrInvalidSession)
		return
	}
	if _, err := h.validator.Validate(r.Context(), sc.Identity.Token, link.UUID); err != nil {
		h.fail(w, r, err)
		return
	}

	token, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		respond.Internal(w, r, h.logger, "discord_token_exchange_failed", err, "Discord API error")
		return
	}
	user, err := h.oauth.FetchUser(r.Context(), token)
	if err != nil {
		respond.Internal(w, r, h.logger, "discord_user_fetch_failed", err, "Discord API error")
		return
	}
	if user.ID == "" {
		respond.Error(w, http.StatusNotFound, "Discord API error")
		return
	}

	acc, err := h.accounts.LinkDiscord(r.Context(), link.Account, link.UUID, link.Email, user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("discord_linked",
		zap.Int64("account_id", acc.ID),
		zap.String("uuid", acc.UUID),
		zap.String("discord_user", user.ID),
	)

	if h.bot != nil {
		if err := h.bot.AddOwnerRole(r.Context(), user.ID); err != nil {
			h.logger.Warn("discord_role_grant_failed", zap.String("discord_user", user.ID), zap.Error(err))
			respond.JSON(w, http.StatusOK, map[string]any{"success": false, "msg": linkFailedMessage})
			return
		}
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"msg": fmt.Sprintf("Successfully linked Mineskin Account %s to Discord User %s, yay! You can close this window now :)",
			acc.UUID, user.Tag()),
	})
	h.notify(user, acc)
}

// notify sends the welcome DM and the announcement in the background.
// Failures are logged only.
func (h *Handler) notify(user User, acc account.Account) {
	if h.bot == nil {
		return
	}
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notificationTimeout)
		defer cancel()

		if err := h.bot.DirectMessage(ctx, user.ID, thanksMessage); err != nil {
			h.logger.Warn("discord_dm_failed", zap.String("discord_user", user.ID), zap.Error(err))
		}
		announcement := fmt.Sprintf("%s linked to account #%d/%s", user.Tag(), acc.ID, acc.UUID)
		if err := h.bot.Announce(ctx, announcement); err != nil {
			h.logger.Warn("discord_announce_failed", zap.Int64("account_id", acc.ID), zap.Error(err))
		}
	}()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if respond.Boundary(w, err) {
		return
	}
	if errors.Is(err, account.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, err.Error())
		return
	}
	respond.Internal(w, r, h.logger, "discord_request_failed", err, "internal server error")
}
