package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"skin-accounts/internal/observability"
	"skin-accounts/internal/provider"
	"skin-accounts/internal/respond"
	"skin-accounts/internal/secure"
	"skin-accounts/internal/session"
)

type MojangClient interface {
	Login(ctx context.Context, email, password, clientToken string) (provider.MojangLogin, error)
	GetChallenges(ctx context.Context, accessToken string) (provider.Challenges, error)
	SubmitChallengeAnswers(ctx context.Context, accessToken string, answers []provider.SecurityAnswer) error
}

type MicrosoftClient interface {
	LoginWithEmailAndPassword(ctx context.Context, email, password string) (provider.MicrosoftLogin, error)
}

type SessionStore interface {
	Load(ctx context.Context, r *http.Request) (*session.Context, error)
	Stage(ctx context.Context, w http.ResponseWriter, r *http.Request, sc *session.Context, identity session.Identity) error
	Save(ctx context.Context, sc *session.Context) error
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request, sc *session.Context) error
}

type ProfileValidator interface {
	Validate(ctx context.Context, accessToken, claimedUUID string) (session.Validation, error)
}

// ProfileCache drops cached profile lookups for a token.
type ProfileCache interface {
	Invalidate(ctx context.Context, accessToken string) error
}

type Handler struct {
	sessions  SessionStore
	validator ProfileValidator
	mojang    MojangClient
	microsoft MicrosoftClient
	service   *Service
	profiles  ProfileCache
	logger    *zap.Logger
}

func NewHandler(
	sessions SessionStore,
	validator ProfileValidator,
	mojang MojangClient,
	microsoft MicrosoftClient,
	service *Service,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:  sessions,
		validator: validator,
		mojang:    mojang,
		microsoft: microsoft,
		service:   service,
		logger:    logger,
	}
}

// WithProfileCache makes logout evict the staged token's cached profile.
func (h *Handler) WithProfileCache(cache ProfileCache) *Handler {
	h.profiles = cache
	return h
}

// Register mounts the account manager routes. limit wraps the provider login
// endpoints.
func (h *Handler) Register(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST /accountManager/mojang/login", limit(http.HandlerFunc(h.MojangLogin)))
	mux.HandleFunc("POST /accountManager/mojang/getChallenges", h.MojangChallenges)
	mux.HandleFunc("POST /accountManager/mojang/solveChallenges", h.MojangSolveChallenges)
	mux.Handle("POST /accountManager/microsoft/login", limit(http.HandlerFunc(h.MicrosoftLogin)))
	mux.HandleFunc("POST /accountManager/logout", h.Logout)
	mux.HandleFunc("POST /accountManager/userProfile", h.UserProfile)
	mux.HandleFunc("POST /accountManager/myAccount", h.MyAccount)
	mux.HandleFunc("PUT /accountManager/settings/{setting}", h.UpdateSetting)
	mux.HandleFunc("POST /accountManager/confirmAccountSubmission", h.ConfirmSubmission)
	mux.HandleFunc("DELETE /accountManager/deleteAccount", h.DeleteAccount)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type solveRequest struct {
	Token           string          `json:"token"`
	SecurityAnswers json.RawMessage `json:"securityAnswers"`
}

type profileRequest struct {
	Token string `json:"token"`
	UUID  string `json:"uuid"`
}

type accountRequest struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	UUID     string `json:"uuid"`
	Password string `json:"password"`
	Enabled  *bool  `json:"enabled"`
	Emails   *bool  `json:"emails"`
}

func (h *Handler) MojangLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := respond.Decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	email, plain, ok := loginCredentials(w, body)
	if !ok {
		return
	}

	ip := observability.ClientIP(r)
	login, err := h.mojang.Login(r.Context(), email, plain, secure.MD5(email+"_"+ip))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if login.SelectedProfile.Legacy {
		respond.Error(w, http.StatusBadRequest, "cannot add legacy profile")
		return
	}
	if login.SelectedProfile.Suspended {
		respond.Error(w, http.StatusBadRequest, "cannot add suspended profile")
		return
	}

	if !h.stage(w, r, session.Identity{
		Type:         provider.AccountTypeMojang,
		Email:        email,
		PasswordHash: secure.SHA512(body.Password),
		Token:        login.AccessToken,
	}) {
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"success": login.AccessToken != "",
		"token":   login.AccessToken,
		"profile": login.SelectedProfile,
	})
}

func (h *Handler) MojangChallenges(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if err := respond.Decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	if _, _, ok := h.authorize(w, r, body.Token); !ok {
		return
	}

	challenges, err := h.mojang.GetChallenges(r.Context(), strings.TrimSpace(body.Token))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success":               true,
		"needToSolveChallenges": challenges.NeedSolving && len(challenges.Questions) > 0,
		"questions":             challenges.Questions,
	})
}

func (h *Handler) MojangSolveChallenges(w http.ResponseWriter, r *http.Request) {
	var body solveRequest
	if err := respond.Decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	sc, identity, ok := h.authorize(w, r, body.Token)
	if !ok {
		return
	}
	if len(body.SecurityAnswers) == 0 || string(body.SecurityAnswers) == "null" {
		respond.Error(w, http.StatusBadRequest, "missing answers")
		return
	}
	answers, err := parseSecurityAnswers(body.SecurityAnswers)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.mojang.SubmitChallengeAnswers(r.Context(), identity.Token, answers); err != nil {
		h.fail(w, r, err)
		return
	}

	identity.Mojang = &session.MojangExtra{SecurityAnswers: answers}
	if err := h.sessions.Save(r.Context(), sc); err != nil {
		respond.Internal(w, r, h.logger, "stage_answers_failed", err, "failed to update session")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "msg": "Challenges solved"})
}

func (h *Handler) MicrosoftLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := respond.Decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	email, plain, ok := loginCredentials(w, body)
	if !ok {
		return
	}

	// The chain includes the entitlement check, so nothing is staged for
	// accounts that do not own the game.
	login, err := h.microsoft.LoginWithEmailAndPassword(r.Context(), email, plain)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	xbox := login.Xbox
	if !h.stage(w, r, session.Identity{
		Type:         provider.AccountTypeMicrosoft,
		Email:        email,
		PasswordHash: secure.SHA512(body.Password),
		Token:        login.MinecraftAccessToken,
		Microsoft:    &xbox,
	}) {
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"success": login.MinecraftAccessToken != "",
		"token":   login.MinecraftAccessToken,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sc, err := h.sessions.Load(r.Context(), r)
	if err != nil {
		respond.Internal(w, r, h.logger, "load_session_failed", err, "failed to load session")
		return
	}
	if h.profiles != nil && sc.Identity != nil && sc.Identity.Token != "" {
		if err := h.profiles.Invalidate(r.Context(), sc.Identity.Token); err != nil {
			h.logger.Warn("profile_cache_invalidate_failed", zap.String("session_id", sc.ID), zap.Error(err))
		}
	}
	if err := h.sessions.Destroy(r.Context(), w, r, sc); err != nil {
		respond.Internal(w, r, h.logger, "destroy_session_failed", err, "failed to logout")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) UserProfile(w http.ResponseWriter, r *http.Request) {
	var body profileRequest
	if err := respond.Decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	sc, identity, ok := h.authorize(w, r, body.Token)
	if !ok {
		return
	}
	if strings.TrimSpace(body.UUID) == "" {
		respond.Error(w, http.StatusBadRequest, "missing uuid")
		return
	}

	validation, err := h.validator.Validate(r.Context(), identity.Token, body.UUID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	identity.ProfileUUID = validation.Profile.ID
	if err := h.sessions.Save(r.Context(), sc); err != nil {
		respond.Internal(w, r, h.logger, "stage_profile_failed", err, "failed to update session")
		return
	}
	respond.JSON(w, http.StatusOK, validation.Profile)
}

func (h *Handler) MyAccount(w http.ResponseWriter, r *http.Request) {
	account, identity, body, ok := h.loadOwnedAccount(w, r)
	if !ok {
		return
	}

	var password string
	if len(body.Password) > 3 {
		decoded, err := secure.DecodeBase64(body.Password)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "invalid password encoding")
			return
		}
		password = decoded
	}

	updated, err := h.service.Update(r.Context(), account, *identity, password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, Summarize(updated))
}

func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	setting := r.PathValue("setting")
	account, _, body, ok := h.loadOwnedAccount(w, r, setting)
	if !ok {
		return
	}

	var value bool
	switch setting {
	case "status":
		value = body.Enabled != nil && *body.Enabled
	case "emails":
		value = body.Emails != nil && *body.Emails
	}
	if _, err := h.service.SetSetting(r.Context(), account, setting, value); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "msg": "updated"})
}

func (h *Handler) ConfirmSubmission(w http.ResponseWriter, r *http.Request) {
	var body accountRequest
	if err := respond.Decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	_, identity, ok := h.authorize(w, r, body.Token)
	if !ok {
		return
	}
	if strings.TrimSpace(body.Email) == "" || body.Password == "" {
		respond.Error(w, http.StatusBadRequest, "missing credentials")
		return
	}
	if strings.TrimSpace(body.Email) != identity.Email || !secure.EqualHex(secure.SHA512(body.Password), identity.PasswordHash) {
		respond.Error(w, http.StatusBadRequest, session.ErrInvalidSession.Error())
		return
	}
	if strings.TrimSpace(body.UUID) == "" {
		respond.Error(w, http.StatusBadRequest, "missing uuid")
		return
	}
	claimed, err := secure.StripUUID(body.UUID)
	if err != nil || identity.ProfileUUID == "" || claimed != identity.ProfileUUID {
		respond.Error(w, http.StatusBadRequest, session.ErrInvalidSession.Error())
		return
	}

	validation, err := h.validator.Validate(r.Context(), identity.Token, body.UUID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	plain, err := secure.DecodeBase64(body.Password)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid password encoding")
		return
	}

	if _, err := h.service.Create(r.Context(), CreateInput{
		Identity: *identity,
		Profile:  validation.Profile,
		Password: plain,
		IP:       observability.ClientIP(r),
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"msg":     "Account saved. Thanks for your contribution!",
	})
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	account, _, _, ok := h.loadOwnedAccount(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), account); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"success": true, "msg": "account removed"})
}

// loadOwnedAccount runs the checks shared by every owner mutation: session
// token, email, live profile and account lookup. A non-empty setting is
// checked before the account is loaded.
func (h *Handler) loadOwnedAccount(w http.ResponseWriter, r *http.Request, setting ...string) (Account, *session.Identity, accountRequest, bool) {
	var body accountRequest
	if err := respond.Decode(w, r, &body); err != nil {
		h.fail(w, r, err)
		return Account{}, nil, body, false
	}
	_, identity, ok := h.authorize(w, r, body.Token)
	if !ok {
		return Account{}, nil, body, false
	}
	if strings.TrimSpace(body.Email) == "" {
		respond.Error(w, http.StatusBadRequest, "missing credentials")
		return Account{}, nil, body, false
	}

	validation, err := h.validator.Validate(r.Context(), identity.Token, body.UUID)
	if err != nil {
		h.fail(w, r, err)
		return Account{}, nil, body, false
	}
	if len(setting) > 0 && !ValidSetting(setting[0]) {
		h.fail(w, r, ErrUnknownSetting)
		return Account{}, nil, body, false
	}

	account, err := h.service.Find(r.Context(), *identity, validation.Profile.ID)
	if err != nil {
		h.fail(w, r, err)
		return Account{}, nil, body, false
	}
	if claimed, _ := secure.StripUUID(body.UUID); claimed != account.UUID {
		respond.Error(w, http.StatusBadRequest, "uuid mismatch")
		return Account{}, nil, body, false
	}
	return account, identity, body, true
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, token string) (*session.Context, *session.Identity, bool) {
	sc, err := h.sessions.Load(r.Context(), r)
	if err != nil {
		respond.Internal(w, r, h.logger, "load_session_failed", err, "failed to load session")
		return nil, nil, false
	}
	identity, err := sc.Authorize(token)
	if err != nil {
		h.fail(w, r, err)
		return nil, nil, false
	}
	return sc, identity, true
}

func (h *Handler) stage(w http.ResponseWriter, r *http.Request, identity session.Identity) bool {
	sc, err := h.sessions.Load(r.Context(), r)
	if err != nil {
		respond.Internal(w, r, h.logger, "load_session_failed", err, "failed to load session")
		return false
	}
	if err := h.sessions.Stage(r.Context(), w, r, sc, identity); err != nil {
		respond.Internal(w, r, h.logger, "stage_identity_failed", err, "failed to store session")
		return false
	}
	h.logger.Debug("identity_staged", zap.String("account_type", string(identity.Type)), zap.String("session_id", sc.ID))
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if respond.Boundary(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownSetting):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrAccountEnabled):
		respond.Error(w, http.StatusBadRequest, err.Error())
	default:
		respond.Internal(w, r, h.logger, "account_request_failed", err, "internal server error")
	}
}

func ValidSetting(name string) bool {
	return name == "status" || name == "emails"
}

func loginCredentials(w http.ResponseWriter, body loginRequest) (string, string, bool) {
	email := strings.TrimSpace(body.Email)
	if email == "" || body.Password == "" {
		respond.Error(w, http.StatusBadRequest, "missing login data")
		return "", "", false
	}
	plain, err := secure.DecodeBase64(body.Password)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid password encoding")
		return "", "", false
	}
	return email, plain, true
}

type rawAnswer struct {
	ID     any `json:"id"`
	Answer any `json:"answer"`
}

func parseSecurityAnswers(raw json.RawMessage) ([]provider.SecurityAnswer, error) {
	var items []rawAnswer
	if err := json.Unmarshal(raw, &items); err != nil || len(items) < 3 {
		return nil, errors.New("invalid security answers object (not an object / empty)")
	}
	answers := make([]provider.SecurityAnswer, 0, len(items))
	for _, item := range items {
		id, idOK := item.ID.(float64)
		answer, answerOK := item.Answer.(string)
		if !idOK || !answerOK {
			return nil, errors.New("invalid security answers object (missing id / answer)")
		}
		answers = append(answers, provider.SecurityAnswer{ID: int(id), Answer: answer})
	}
	return answers, nil
}
