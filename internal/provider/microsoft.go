package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	defaultMicrosoftClientID = "00000000402b5328"
	xboxLiveScope            = "service::user.auth.xboxlive.com::MBI_SSL"
)

type MicrosoftEndpoints struct {
	ClientID      string
	OAuthToken    string
	XboxUserAuth  string
	XSTSAuthorize string
	LoginWithXbox string
	Entitlements  string
}

func DefaultMicrosoftEndpoints() MicrosoftEndpoints {
	return MicrosoftEndpoints{
		ClientID:      defaultMicrosoftClientID,
		OAuthToken:    "https://login.live.com/oauth20_token.srf",
		XboxUserAuth:  "https://user.auth.xboxlive.com/user/authenticate",
		XSTSAuthorize: "https://xsts.auth.xboxlive.com/xsts/authorize",
		LoginWithXbox: "https://api.minecraftservices.com/authentication/login_with_xbox",
		Entitlements:  "https://api.minecraftservices.com/entitlements/mcstore",
	}
}

type Microsoft struct {
	endpoints  MicrosoftEndpoints
	oauth      *oauth2.Config
	httpClient *http.Client
}

func NewMicrosoft(endpoints MicrosoftEndpoints, httpClient *http.Client) *Microsoft {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	if endpoints.ClientID == "" {
		endpoints.ClientID = defaultMicrosoftClientID
	}
	return &Microsoft{
		endpoints: endpoints,
		oauth: &oauth2.Config{
			ClientID: endpoints.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  endpoints.OAuthToken,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{xboxLiveScope},
		},
		httpClient: httpClient,
	}
}

type xboxTokenResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
			XID string `json:"xid"`
			GTG string `json:"gtg"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

func (r xboxTokenResponse) userHash() string {
	if len(r.DisplayClaims.XUI) == 0 {
		return ""
	}
	return r.DisplayClaims.XUI[0].UHS
}

type minecraftLoginResponse struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type entitlementsResponse struct {
	Items []struct {
		Name string `json:"name"`
	} `json:"items"`
}

// chainState threads the output of each hop into the next one.
type chainState struct {
	email    string
	password string

	msa      *oauth2.Token
	xbl      xboxTokenResponse
	xsts     xboxTokenResponse
	mc       minecraftLoginResponse
	xboxInfo XboxInfo
}

type chainStep struct {
	name string
	run  func(ctx context.Context, st *chainState) error
}

func (m *Microsoft) steps() []chainStep {
	return []chainStep{
		{name: "oauth token", run: m.passwordGrant},
		{name: "xbox live authentication", run: m.xboxUserAuth},
		{name: "xsts authorization", run: m.xstsAuthorize},
		{name: "login with xbox", run: m.loginWithXbox},
		{name: "entitlement check", run: m.requireOwnership},
	}
}

// LoginWithEmailAndPassword runs the federated chain. The first failing hop
// stops the chain; its error is reported as MICROSOFT_AUTH_FAILED unless the
// hop returned a more specific AuthError.
func (m *Microsoft) LoginWithEmailAndPassword(ctx context.Context, email, password string) (MicrosoftLogin, error) {
	st := &chainState{email: email, password: password}
	for _, step := range m.steps() {
		if err := step.run(ctx, st); err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return MicrosoftLogin{}, authErr
			}
			return MicrosoftLogin{}, newAuthError(MicrosoftAuthFailed, "failed to login: "+step.name, err)
		}
	}

	return MicrosoftLogin{
		MinecraftAccessToken: st.mc.AccessToken,
		ExpiresIn:            st.mc.ExpiresIn,
		Xbox:                 st.xboxInfo,
	}, nil
}

func (m *Microsoft) passwordGrant(ctx context.Context, st *chainState) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	token, err := m.oauth.PasswordCredentialsToken(ctx, st.email, st.password)
	if err != nil {
		return err
	}
	st.msa = token
	st.xboxInfo.AccessToken = token.AccessToken
	st.xboxInfo.RefreshToken = token.RefreshToken
	if userID, ok := token.Extra("user_id").(string); ok {
		st.xboxInfo.UserID = userID
	}
	return nil
}

func (m *Microsoft) xboxUserAuth(ctx context.Context, st *chainState) error {
	body := map[string]any{
		"Properties": map[string]any{
			"AuthMethod": "RPS",
			"SiteName":   "user.auth.xboxlive.com",
			"RpsTicket":  st.msa.AccessToken,
		},
		"RelyingParty": "http://auth.xboxlive.com",
		"TokenType":    "JWT",
	}
	if _, err := doJSON(ctx, m.httpClient, http.MethodPost, m.endpoints.XboxUserAuth, "", body, &st.xbl); err != nil {
		return err
	}
	if st.xbl.Token == "" {
		return errors.New("xbox live response missing token")
	}
	return nil
}

func (m *Microsoft) xstsAuthorize(ctx context.Context, st *chainState) error {
	body := map[string]any{
		"Properties": map[string]any{
			"SandboxId":  "RETAIL",
			"UserTokens": []string{st.xbl.Token},
		},
		"RelyingParty": "rp://api.minecraftservices.com/",
		"TokenType":    "JWT",
	}
	if _, err := doJSON(ctx, m.httpClient, http.MethodPost, m.endpoints.XSTSAuthorize, "", body, &st.xsts); err != nil {
		return err
	}
	if st.xsts.Token == "" || st.xsts.userHash() == "" {
		return errors.New("xsts response missing token or user hash")
	}
	if xui := st.xsts.DisplayClaims.XUI[0]; xui.XID != "" {
		st.xboxInfo.UserID = xui.XID
	}
	return nil
}

func (m *Microsoft) loginWithXbox(ctx context.Context, st *chainState) error {
	body := map[string]string{
		"identityToken": fmt.Sprintf("XBL3.0 x=%s;%s", st.xsts.userHash(), st.xsts.Token),
	}
	if _, err := doJSON(ctx, m.httpClient, http.MethodPost, m.endpoints.LoginWithXbox, "", body, &st.mc); err != nil {
		return err
	}
	if st.mc.AccessToken == "" {
		return errors.New("minecraft login response missing access token")
	}
	st.xboxInfo.Username = st.mc.Username
	return nil
}

func (m *Microsoft) requireOwnership(ctx context.Context, st *chainState) error {
	owns, err := m.CheckGameOwnership(ctx, st.mc.AccessToken)
	if err != nil {
		return err
	}
	if !owns {
		return newAuthError(DoesNotOwnMinecraft, "user does not own minecraft", nil)
	}
	return nil
}

// CheckGameOwnership queries the store entitlements for the token.
func (m *Microsoft) CheckGameOwnership(ctx context.Context, minecraftAccessToken string) (bool, error) {
	var out entitlementsResponse
	if _, err := doJSON(ctx, m.httpClient, http.MethodGet, m.endpoints.Entitlements, minecraftAccessToken, nil, &out); err != nil {
		return false, err
	}
	for _, item := range out.Items {
		name := strings.ToLower(item.Name)
		if name == "product_minecraft" || name == "game_minecraft" {
			return true, nil
		}
	}
	return false, nil
}
