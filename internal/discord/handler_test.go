package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"skin-accounts/internal/account"
	"skin-accounts/internal/provider"
	"skin-accounts/internal/session"
)

const (
	profileID    = "11112222333344445555666677778888"
	stagedToken  = "mc-token"
	discordID    = "80351110224678912"
	ownerRole    = "role-1"
	guildID      = "guild-1"
	announceChan = "announce-1"
)

type discordFake struct {
	server *httptest.Server

	mu       sync.Mutex
	userID   string
	roleFail bool
	roles    []string
	messages map[string][]string
}

func newDiscordFake(t *testing.T) *discordFake {
	t.Helper()
	f := &discordFake{userID: discordID, messages: map[string][]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" || r.PostForm.Get("client_secret") != "secret" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"discord-access","token_type":"Bearer","expires_in":600}`))
	})
	mux.HandleFunc("GET /users/@me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer discord-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		id := f.userID
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "username": "steve", "discriminator": "1234"})
	})
	mux.HandleFunc("PUT /guilds/{guild}/members/{user}/roles/{role}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.roleFail || r.Header.Get("Authorization") != "Bot bot-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.roles = append(f.roles, r.PathValue("guild")+"/"+r.PathValue("user")+"/"+r.PathValue("role"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /users/@me/channels", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "dm-" + body["recipient_id"]})
	})
	mux.HandleFunc("POST /channels/{channel}/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.messages[r.PathValue("channel")] = append(f.messages[r.PathValue("channel")], body["content"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type staticValidator map[string]string

func (v staticValidator) Validate(ctx context.Context, accessToken, claimedUUID string) (session.Validation, error) {
	id, ok := v[accessToken]
	if !ok || id != claimedUUID {
		return session.Validation{}, session.ErrInvalidCredentials
	}
	return session.Validation{Valid: true, Profile: provider.Profile{ID: id, Name: "Steve"}}, nil
}

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[int64]account.Account
}

func (m *memoryAccounts) Find(ctx context.Context, identity session.Identity, profileID string) (account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if acc.AccountType == identity.Type && acc.UUID == profileID && acc.Email == identity.Email {
			return acc, nil
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (m *memoryAccounts) LinkDiscord(ctx context.Context, id int64, uuid, login, discordID string) (account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok || acc.UUID != uuid || (acc.Email != login && acc.Username != login) {
		return account.Account{}, account.ErrNotFound
	}
	acc.DiscordUser = &discordID
	m.accounts[id] = acc
	return acc, nil
}

type linkHarness struct {
	t        *testing.T
	handler  *Handler
	mux      *http.ServeMux
	fake     *discordFake
	accounts *memoryAccounts
	sessions *session.Store
	links    *RedisLinkStore
	redis    *miniredis.Miniredis
	cookies  []*http.Cookie
}

func newLinkHarness(t *testing.T, withOAuth bool) *linkHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sessions, err := session.NewStore(rdb, session.StoreOptions{Secret: "0123456789abcdef0123456789abcdef", TTL: time.Minute})
	require.NoError(t, err)

	fake := newDiscordFake(t)
	accounts := &memoryAccounts{accounts: map[int64]account.Account{
		7: {ID: 7, UUID: profileID, AccountType: provider.AccountTypeMojang, Email: "a@b.com", Username: "a@b.com", Enabled: true},
	}}

	oauthCfg := OAuthConfig{APIBase: fake.server.URL}
	if withOAuth {
		oauthCfg.ClientID = "client"
		oauthCfg.ClientSecret = "secret"
		oauthCfg.RedirectURL = "https://accounts.example/accountManager/discord/oauth/callback"
	}

	links := NewRedisLinkStore(rdb, "")
	h := NewHandler(Options{
		Sessions:  sessions,
		Validator: staticValidator{stagedToken: profileID},
		Accounts:  accounts,
		Links:     links,
		OAuth:     NewOAuthClient(oauthCfg, fake.server.Client()),
		Bot: NewBot(BotConfig{
			Token:           "bot-token",
			GuildID:         guildID,
			OwnerRoleID:     ownerRole,
			AnnounceChannel: announceChan,
			APIBase:         fake.server.URL,
		}, fake.server.Client()),
	})
	mux := http.NewServeMux()
	h.Register(mux)

	return &linkHarness{t: t, handler: h, mux: mux, fake: fake, accounts: accounts, sessions: sessions, links: links, redis: mr}
}

func (lh *linkHarness) stage() {
	lh.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/accountManager/mojang/login", nil)
	sc, err := lh.sessions.Load(context.Background(), req)
	require.NoError(lh.t, err)
	rec := httptest.NewRecorder()
	require.NoError(lh.t, lh.sessions.Stage(context.Background(), rec, req, sc, session.Identity{
		Type:        provider.AccountTypeMojang,
		Email:       "a@b.com",
		Token:       stagedToken,
		ProfileUUID: profileID,
	}))
	lh.cookies = rec.Result().Cookies()
}

func (lh *linkHarness) get(path string, query url.Values) *httptest.ResponseRecorder {
	lh.t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+query.Encode(), nil)
	for _, c := range lh.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	lh.mux.ServeHTTP(rec, req)
	return rec
}

func (lh *linkHarness) start() string {
	lh.t.Helper()
	rec := lh.get("/accountManager/discord/oauth/start", url.Values{
		"token": {stagedToken},
		"email": {"a@b.com"},
		"uuid":  {profileID},
	})
	require.Equal(lh.t, http.StatusFound, rec.Code, rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(lh.t, err)
	return location.Query().Get("state")
}

func (lh *linkHarness) callback(code, state string) (*httptest.ResponseRecorder, map[string]any) {
	lh.t.Helper()
	rec := lh.get("/accountManager/discord/oauth/callback", url.Values{"code": {code}, "state": {state}})
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(lh.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStartRedirectsToAuthorize(t *testing.T) {
	lh := newLinkHarness(t, true)
	lh.stage()

	rec := lh.get("/accountManager/discord/oauth/start", url.Values{
		"token": {stagedToken},
		"email": {"a@b.com"},
		"uuid":  {profileID},
	})
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/oauth2/authorize", location.Path)
	q := location.Query()
	require.Equal(t, "client", q.Get("client_id"))
	require.Equal(t, "identify", q.Get("scope"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "https://accounts.example/accountManager/discord/oauth/callback", q.Get("redirect_uri"))
	require.Len(t, q.Get("state"), 64)
}

func TestStartRejections(t *testing.T) {
	unconfigured := newLinkHarness(t, false)
	rec := unconfigured.get("/accountManager/discord/oauth/start", url.Values{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "server can't handle discord auth", decodeBody(t, rec)["error"])

	lh := newLinkHarness(t, true)
	rec = lh.get("/accountManager/discord/oauth/start", url.Values{"token": {stagedToken}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid session", decodeBody(t, rec)["error"])

	lh.stage()
	rec = lh.get("/accountManager/discord/oauth/start", url.Values{"token": {stagedToken}, "uuid": {profileID}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "missing credentials", decodeBody(t, rec)["error"])

	rec = lh.get("/accountManager/discord/oauth/start", url.Values{
		"token": {stagedToken}, "email": {"a@b.com"}, "uuid": {"99992222333344445555666677778888"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_credentials", decodeBody(t, rec)["errorCode"])

	delete(lh.accounts.accounts, 7)
	rec = lh.get("/accountManager/discord/oauth/start", url.Values{
		"token": {stagedToken}, "email": {"a@b.com"}, "uuid": {profileID},
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "account not found", decodeBody(t, rec)["error"])
}

func TestStartRejectsEmailOtherThanStaged(t *testing.T) {
	lh := newLinkHarness(t, true)
	lh.stage()

	rec := lh.get("/accountManager/discord/oauth/start", url.Values{
		"token": {stagedToken},
		"email": {"someone-else@x.com"},
		"uuid":  {profileID},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid session", decodeBody(t, rec)["error"])
	for _, key := range lh.redis.Keys() {
		require.NotContains(t, key, "discord_link:")
	}
}

func TestStartStoresStagedEmail(t *testing.T) {
	lh := newLinkHarness(t, true)
	lh.stage()
	state := lh.start()

	link, ok, err := lh.links.TakeOnce(context.Background(), state)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PendingLink{State: state, Account: 7, UUID: profileID, Email: "a@b.com"}, link)
}

func TestCallbackLinksAccount(t *testing.T) {
	lh := newLinkHarness(t, true)
	lh.stage()
	state := lh.start()

	rec, out := lh.callback("good-code", state)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, out["success"])
	require.Equal(t,
		"Successfully linked Mineskin Account "+profileID+" to Discord User steve#1234, yay! You can close this window now :)",
		out["msg"])

	require.Equal(t, discordID, *lh.accounts.accounts[7].DiscordUser)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, lh.handler.Wait(ctx))

	lh.fake.mu.Lock()
	defer lh.fake.mu.Unlock()
	require.Equal(t, []string{guildID + "/" + discordID + "/" + ownerRole}, lh.fake.roles)
	require.Equal(t, []string{thanksMessage}, lh.fake.messages["dm-"+discordID])
	require.Equal(t, []string{"steve#1234 linked to account #7/" + profileID}, lh.fake.messages[announceChan])
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	lh := newLinkHarness(t, true)
	lh.stage()
	state := lh.start()

	rec, _ := lh.callback("good-code", state)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out := lh.callback("good-code", state)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid state", out["error"])
	require.NoError(t, lh.handler.Wait(context.Background()))
}

func TestCallbackFailures(t *testing.T) {
	unconfigured := newLinkHarness(t, false)
	rec, out := unconfigured.callback("good-code", "s")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "server can't handle discord auth", out["error"])

	lh := newLinkHarness(t, true)
	lh.stage()

	rec, _ = lh.callback("", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, rec.Body.Len())

	rec, out = lh.callback("good-code", "unknown")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid state", out["error"])

	rec, out = lh.callback("bad-code", lh.start())
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Discord API error", out["error"])

	lh.fake.mu.Lock()
	lh.fake.userID = ""
	lh.fake.mu.Unlock()
	rec, out = lh.callback("good-code", lh.start())
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Discord API error", out["error"])
	require.Nil(t, lh.accounts.accounts[7].DiscordUser)
}

func TestCallbackRequiresStagedSession(t *testing.T) {
	lh := newLinkHarness(t, true)
	lh.stage()
	state := lh.start()

	lh.cookies = nil
	rec, out := lh.callback("good-code", state)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid session", out["error"])
	require.Nil(t, lh.accounts.accounts[7].DiscordUser)
}

func TestCallbackRoleFailureKeepsLink(t *testing.T) {
	lh := newLinkHarness(t, true)
	lh.fake.roleFail = true
	lh.stage()

	rec, out := lh.callback("good-code", lh.start())
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, out["success"])
	require.Equal(t, linkFailedMessage, out["msg"])
	require.Equal(t, discordID, *lh.accounts.accounts[7].DiscordUser)

	require.NoError(t, lh.handler.Wait(context.Background()))
	require.Empty(t, lh.fake.messages)
}

func TestUserTag(t *testing.T) {
	require.Equal(t, "steve#1234", User{Username: "steve", Discriminator: "1234"}.Tag())
	require.Equal(t, "steve", User{Username: "steve", Discriminator: "0"}.Tag())
	require.Equal(t, "Steve S", User{GlobalName: "Steve S", Discriminator: "0"}.Tag())
	require.Equal(t, "steve", User{Username: "steve", GlobalName: "Steve S"}.Tag())
}
