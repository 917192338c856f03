package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
)

const (
	CookieName   = "accountManager"
	sessionIDKey = "sid"

	defaultTTL = 10 * time.Minute
)

// Store keeps only a session id in the signed cookie. The staged identity
// lives in Redis under prefix:id and expires with the session.
type Store struct {
	cookies sessions.Store
	redis   redis.UniversalClient
	prefix  string
	ttl     time.Duration
}

type StoreOptions struct {
	Secret       string
	TTL          time.Duration
	SecureCookie bool
	Prefix       string
}

func NewStore(redisClient redis.UniversalClient, options StoreOptions) (*Store, error) {
	if len(options.Secret) < 16 {
		return nil, errors.New("session secret must be at least 16 bytes")
	}
	if options.TTL <= 0 {
		options.TTL = defaultTTL
	}
	if options.Prefix == "" {
		options.Prefix = "staged"
	}

	cookies := sessions.NewCookieStore([]byte(options.Secret))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(options.TTL.Seconds()),
		HttpOnly: true,
		Secure:   options.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}

	return &Store{
		cookies: cookies,
		redis:   redisClient,
		prefix:  options.Prefix,
		ttl:     options.TTL,
	}, nil
}

func (s *Store) key(id string) string {
	return s.prefix + ":" + id
}

// Load resolves the session for a request. A missing or tampered cookie
// yields an empty Context rather than an error.
func (s *Store) Load(ctx context.Context, r *http.Request) (*Context, error) {
	cookie, err := s.cookies.Get(r, CookieName)
	if err != nil || cookie == nil {
		cookie, _ = s.cookies.New(r, CookieName)
		cookie.IsNew = true
	}

	out := &Context{cookie: cookie}
	id, _ := cookie.Values[sessionIDKey].(string)
	if id == "" {
		return out, nil
	}
	out.ID = id

	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load staged identity: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("decode staged identity: %w", err)
	}
	out.Identity = &identity
	return out, nil
}

// Stage replaces whatever identity the session held and writes the cookie.
func (s *Store) Stage(ctx context.Context, w http.ResponseWriter, r *http.Request, sc *Context, identity Identity) error {
	if sc.cookie == nil {
		cookie, _ := s.cookies.New(r, CookieName)
		sc.cookie = cookie
	}
	if sc.ID == "" {
		sc.ID = ksuid.New().String()
	}
	sc.cookie.Values[sessionIDKey] = sc.ID
	sc.Identity = &identity

	if err := s.Save(ctx, sc); err != nil {
		return err
	}
	if err := sc.cookie.Save(r, w); err != nil {
		return fmt.Errorf("write session cookie: %w", err)
	}
	return nil
}

// Save persists changes made to an already staged identity.
func (s *Store) Save(ctx context.Context, sc *Context) error {
	if sc.ID == "" || sc.Identity == nil {
		return ErrInvalidSession
	}
	encoded, err := json.Marshal(sc.Identity)
	if err != nil {
		return fmt.Errorf("encode staged identity: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(sc.ID), encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("store staged identity: %w", err)
	}
	return nil
}

// Destroy drops the staged identity and expires the cookie.
func (s *Store) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request, sc *Context) error {
	if sc.ID != "" {
		if err := s.redis.Del(ctx, s.key(sc.ID)).Err(); err != nil {
			return fmt.Errorf("delete staged identity: %w", err)
		}
	}
	sc.ID = ""
	sc.Identity = nil

	if sc.cookie == nil {
		return nil
	}
	sc.cookie.Values = map[any]any{}
	sc.cookie.Options.MaxAge = -1
	if err := sc.cookie.Save(r, w); err != nil {
		return fmt.Errorf("expire session cookie: %w", err)
	}
	return nil
}
