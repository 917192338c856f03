package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newMojangTestServer(t *testing.T, locationStatus int) (*Mojang, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /authenticate", func(w http.ResponseWriter, r *http.Request) {
		var body mojangAuthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Password != "secret" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"ForbiddenOperationException"}`))
			return
		}
		require.Equal(t, "Minecraft", body.Agent.Name)
		require.Equal(t, "client-token", body.ClientToken)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken": "mojang-token",
			"clientToken": body.ClientToken,
			"selectedProfile": map[string]any{
				"id":   "11112222333344445555666677778888",
				"name": "Steve",
			},
		})
	})
	mux.HandleFunc("GET /challenges", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer mojang-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[{"answer":{"id":11},"question":{"id":1,"question":"Pet?"}}]`))
	})
	mux.HandleFunc("GET /location", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(locationStatus)
	})
	mux.HandleFunc("POST /location", func(w http.ResponseWriter, r *http.Request) {
		var answers []SecurityAnswer
		require.NoError(t, json.NewDecoder(r.Body).Decode(&answers))
		if len(answers) == 0 || answers[0].Answer != "rex" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewMojang(MojangEndpoints{
		Authenticate:     srv.URL + "/authenticate",
		SecurityQuestion: srv.URL + "/challenges",
		SecurityLocation: srv.URL + "/location",
	}, srv.Client())
	return client, srv
}

func TestMojangLogin(t *testing.T) {
	client, _ := newMojangTestServer(t, http.StatusNoContent)

	out, err := client.Login(context.Background(), "a@b.com", "secret", "client-token")
	require.NoError(t, err)
	require.Equal(t, "mojang-token", out.AccessToken)
	require.NotNil(t, out.SelectedProfile)
	require.Equal(t, "Steve", out.SelectedProfile.Name)
}

func TestMojangLoginRejected(t *testing.T) {
	client, _ := newMojangTestServer(t, http.StatusNoContent)

	_, err := client.Login(context.Background(), "a@b.com", "wrong", "client-token")
	require.Error(t, err)
	require.True(t, IsCode(err, MojangAuthFailed))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.Status)
}

func TestMojangChallenges(t *testing.T) {
	trusted, _ := newMojangTestServer(t, http.StatusNoContent)
	out, err := trusted.GetChallenges(context.Background(), "mojang-token")
	require.NoError(t, err)
	require.False(t, out.NeedSolving)
	require.Len(t, out.Questions, 1)

	untrusted, _ := newMojangTestServer(t, http.StatusForbidden)
	out, err = untrusted.GetChallenges(context.Background(), "mojang-token")
	require.NoError(t, err)
	require.True(t, out.NeedSolving)
	require.Equal(t, "Pet?", out.Questions[0].Question.Question)
}

func TestMojangSubmitChallengeAnswers(t *testing.T) {
	client, _ := newMojangTestServer(t, http.StatusForbidden)

	require.NoError(t, client.SubmitChallengeAnswers(context.Background(), "mojang-token", []SecurityAnswer{{ID: 11, Answer: "rex"}}))

	err := client.SubmitChallengeAnswers(context.Background(), "mojang-token", []SecurityAnswer{{ID: 11, Answer: "cat"}})
	require.True(t, IsCode(err, MojangChallengesFailed))
}
