package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const defaultAPIBase = "https://discord.com/api"

var ErrTokenExchange = errors.New("discord token exchange failed")

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// APIBase overrides https://discord.com/api, for tests.
	APIBase string
}

// User is the subset of GET /users/@me the link flow reads.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
}

// Tag renders the user the way Discord shows it. GlobalName stands in when
// the username is missing.
func (u User) Tag() string {
	name := u.Username
	if name == "" {
		name = u.GlobalName
	}
	if u.Discriminator == "" || u.Discriminator == "0" {
		return name
	}
	return name + "#" + u.Discriminator
}

type OAuthClient struct {
	config     *oauth2.Config
	apiBase    string
	httpClient *http.Client
}

func NewOAuthClient(cfg OAuthConfig, httpClient *http.Client) *OAuthClient {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase:    base,
		httpClient: httpClient,
	}
}

// Configured reports whether client credentials were provided.
func (c *OAuthClient) Configured() bool {
	return c != nil && c.config.ClientID != "" && c.config.ClientSecret != "" && c.config.RedirectURL != ""
}

func (c *OAuthClient) AuthorizeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

func (c *OAuthClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if token.AccessToken == "" {
		return nil, ErrTokenExchange
	}
	return token, nil
}

func (c *OAuthClient) FetchUser(ctx context.Context, token *oauth2.Token) (User, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := c.config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/users/@me", nil)
	if err != nil {
		return User{}, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("fetch discord user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return User{}, fmt.Errorf("fetch discord user: status %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode discord user: %w", err)
	}
	return user, nil
}
