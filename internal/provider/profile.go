package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"skin-accounts/internal/secure"
)

const defaultProfileURL = "https://api.minecraftservices.com/minecraft/profile"

type ProfileSource interface {
	Profile(ctx context.Context, accessToken string) (Profile, error)
}

// Profiles reads the game profile that belongs to an access token.
type Profiles struct {
	url        string
	httpClient *http.Client
}

func NewProfiles(url string, httpClient *http.Client) *Profiles {
	if url == "" {
		url = defaultProfileURL
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &Profiles{url: url, httpClient: httpClient}
}

func (p *Profiles) Profile(ctx context.Context, accessToken string) (Profile, error) {
	var out Profile
	if _, err := doJSON(ctx, p.httpClient, http.MethodGet, p.url, accessToken, nil, &out); err != nil {
		return Profile{}, newAuthError(ProfileFetchFailed, "failed to fetch profile", err)
	}
	if out.ID == "" {
		return Profile{}, newAuthError(ProfileFetchFailed, "profile response missing id", nil)
	}
	return out, nil
}

// CachedProfiles fronts a ProfileSource with a short-lived Redis entry keyed
// by the token digest. Cache backend failures fall through to the source.
type CachedProfiles struct {
	source ProfileSource
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewCachedProfiles(source ProfileSource, redisClient redis.UniversalClient, prefix string, ttl time.Duration) *CachedProfiles {
	if prefix == "" {
		prefix = "profile"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedProfiles{source: source, redis: redisClient, prefix: prefix, ttl: ttl}
}

func (c *CachedProfiles) key(accessToken string) string {
	return c.prefix + ":" + secure.SHA256(accessToken)
}

func (c *CachedProfiles) Profile(ctx context.Context, accessToken string) (Profile, error) {
	key := c.key(accessToken)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var cached Profile
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil && cached.ID != "" {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return c.source.Profile(ctx, accessToken)
	}

	profile, err := c.source.Profile(ctx, accessToken)
	if err != nil {
		return Profile{}, err
	}
	encoded, err := json.Marshal(profile)
	if err != nil {
		return Profile{}, fmt.Errorf("encode profile: %w", err)
	}
	_ = c.redis.Set(ctx, key, encoded, c.ttl).Err()
	return profile, nil
}

// Invalidate drops the cached profile for a token.
func (c *CachedProfiles) Invalidate(ctx context.Context, accessToken string) error {
	if err := c.redis.Del(ctx, c.key(accessToken)).Err(); err != nil {
		return fmt.Errorf("invalidate profile: %w", err)
	}
	return nil
}
