package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type BotConfig struct {
	Token           string
	GuildID         string
	OwnerRoleID     string
	AnnounceChannel string
	// APIBase overrides https://discord.com/api, for tests.
	APIBase string
}

// Bot talks to the Discord REST API with a bot token. Every call is a no-op
// when the piece of configuration it needs is missing.
type Bot struct {
	cfg        BotConfig
	apiBase    string
	httpClient *http.Client
}

func NewBot(cfg BotConfig, httpClient *http.Client) *Bot {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Bot{cfg: cfg, apiBase: base, httpClient: httpClient}
}

func (b *Bot) AddOwnerRole(ctx context.Context, userID string) error {
	if b.cfg.Token == "" || b.cfg.GuildID == "" || b.cfg.OwnerRoleID == "" {
		return nil
	}
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(b.cfg.GuildID), url.PathEscape(userID), url.PathEscape(b.cfg.OwnerRoleID))
	return b.do(ctx, http.MethodPut, path, nil, nil)
}

func (b *Bot) DirectMessage(ctx context.Context, userID, content string) error {
	if b.cfg.Token == "" {
		return nil
	}
	var channel struct {
		ID string `json:"id"`
	}
	if err := b.do(ctx, http.MethodPost, "/users/@me/channels", map[string]string{"recipient_id": userID}, &channel); err != nil {
		return err
	}
	if channel.ID == "" {
		return fmt.Errorf("open dm channel: empty channel id")
	}
	return b.send(ctx, channel.ID, content)
}

func (b *Bot) Announce(ctx context.Context, content string) error {
	if b.cfg.Token == "" || b.cfg.AnnounceChannel == "" {
		return nil
	}
	return b.send(ctx, b.cfg.AnnounceChannel, content)
}

func (b *Bot) send(ctx context.Context, channelID, content string) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	return b.do(ctx, http.MethodPost, path, map[string]string{"content": content}, nil)
}

func (b *Bot) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode discord payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+b.cfg.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("discord %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode discord response: %w", err)
	}
	return nil
}
