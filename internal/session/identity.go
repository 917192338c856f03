package session

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gorilla/sessions"

	"skin-accounts/internal/provider"
)

var (
	ErrMissingToken   = errors.New("missing token")
	ErrInvalidSession = errors.New("invalid session")
)

// Identity is a provider login that has not been confirmed yet. PasswordHash
// is the sha512 hex of the plain password the user logged in with.
type Identity struct {
	Type         provider.AccountType `json:"type"`
	Email        string               `json:"email"`
	PasswordHash string               `json:"passwordHash"`
	Token        string               `json:"token"`
	ProfileUUID  string               `json:"profileUuid,omitempty"`
	Mojang       *MojangExtra         `json:"mojang,omitempty"`
	Microsoft    *provider.XboxInfo   `json:"microsoft,omitempty"`
}

type MojangExtra struct {
	SecurityAnswers []provider.SecurityAnswer `json:"securityAnswers,omitempty"`
}

// Context is the per-request view of a session.
type Context struct {
	ID       string
	Identity *Identity

	cookie *sessions.Session
}

// Authorize checks that the request token belongs to the staged identity.
func (c *Context) Authorize(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	if c == nil || c.Identity == nil || c.Identity.Token == "" {
		return nil, ErrInvalidSession
	}
	if subtle.ConstantTimeCompare([]byte(c.Identity.Token), []byte(token)) != 1 {
		return nil, ErrInvalidSession
	}
	return c.Identity, nil
}
