package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type MojangEndpoints struct {
	Authenticate     string
	SecurityQuestion string
	SecurityLocation string
}

func DefaultMojangEndpoints() MojangEndpoints {
	return MojangEndpoints{
		Authenticate:     "https://authserver.mojang.com/authenticate",
		SecurityQuestion: "https://api.mojang.com/user/security/challenges",
		SecurityLocation: "https://api.mojang.com/user/security/location",
	}
}

type Mojang struct {
	endpoints  MojangEndpoints
	httpClient *http.Client
}

func NewMojang(endpoints MojangEndpoints, httpClient *http.Client) *Mojang {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &Mojang{endpoints: endpoints, httpClient: httpClient}
}

type mojangAuthRequest struct {
	Agent struct {
		Name    string `json:"name"`
		Version int    `json:"version"`
	} `json:"agent"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientToken string `json:"clientToken"`
	RequestUser bool   `json:"requestUser"`
}

func (m *Mojang) Login(ctx context.Context, email, password, clientToken string) (MojangLogin, error) {
	body := mojangAuthRequest{
		Username:    email,
		Password:    password,
		ClientToken: clientToken,
		RequestUser: true,
	}
	body.Agent.Name = "Minecraft"
	body.Agent.Version = 1

	var out MojangLogin
	if _, err := doJSON(ctx, m.httpClient, http.MethodPost, m.endpoints.Authenticate, "", body, &out); err != nil {
		return MojangLogin{}, newAuthError(MojangAuthFailed, "failed to authenticate via mojang", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" || out.SelectedProfile == nil {
		return MojangLogin{}, newAuthError(MojangAuthFailed, "mojang response missing token or profile", nil)
	}
	return out, nil
}

// GetChallenges reports whether the current location is trusted and, if
// not, which security questions have to be answered.
func (m *Mojang) GetChallenges(ctx context.Context, accessToken string) (Challenges, error) {
	needSolving := false
	if _, err := doJSON(ctx, m.httpClient, http.MethodGet, m.endpoints.SecurityLocation, accessToken, nil, nil); err != nil {
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			return Challenges{}, newAuthError(MojangChallengesFailed, "failed to get security challenges", err)
		}
		needSolving = true
	}

	var questions []SecurityQuestion
	if _, err := doJSON(ctx, m.httpClient, http.MethodGet, m.endpoints.SecurityQuestion, accessToken, nil, &questions); err != nil {
		return Challenges{}, newAuthError(MojangChallengesFailed, "failed to get security challenges", err)
	}
	return Challenges{NeedSolving: needSolving && len(questions) > 0, Questions: questions}, nil
}

func (m *Mojang) SubmitChallengeAnswers(ctx context.Context, accessToken string, answers []SecurityAnswer) error {
	if _, err := doJSON(ctx, m.httpClient, http.MethodPost, m.endpoints.SecurityLocation, accessToken, answers, nil); err != nil {
		return newAuthError(MojangChallengesFailed, "failed to complete security challenges", err)
	}
	return nil
}
