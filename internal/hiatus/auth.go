package hiatus

import (
	"errors"
	"strconv"
	"strings"

	"skin-accounts/internal/account"
	"skin-accounts/internal/secure"
)

var (
	ErrInvalidAuthHeader = errors.New("invalid auth header")
	ErrInvalidUserAgent  = errors.New("invalid user-agent header")
)

// Auth is the decoded companion client credential
// base64("version:uuid:sha256(email:token)").
type Auth struct {
	Version    int
	UUID       string
	Hash       string
	ModVersion string
}

func ParseAuth(authorization, userAgent string) (Auth, error) {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Auth{}, ErrInvalidUserAgent
	}

	authorization = strings.TrimSpace(authorization)
	encoded, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || strings.TrimSpace(encoded) == "" {
		return Auth{}, ErrInvalidAuthHeader
	}
	decoded, err := secure.DecodeBase64(encoded)
	if err != nil {
		return Auth{}, ErrInvalidAuthHeader
	}

	parts := strings.Split(decoded, ":")
	if len(parts) != 3 {
		return Auth{}, ErrInvalidAuthHeader
	}
	version, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Auth{}, ErrInvalidAuthHeader
	}
	uuid, err := secure.StripUUID(parts[1])
	if err != nil {
		return Auth{}, ErrInvalidAuthHeader
	}

	return Auth{
		Version:    version,
		UUID:       uuid,
		Hash:       strings.TrimSpace(parts[2]),
		ModVersion: userAgent,
	}, nil
}

type verdict int

const (
	verdictOK verdict = iota
	verdictUUIDMismatch
	verdictNoConfig
	verdictHashMismatch
)

func verify(auth Auth, acc account.Account) verdict {
	if acc.UUID != auth.UUID {
		return verdictUUIDMismatch
	}
	if !acc.Hiatus.Enabled || acc.Hiatus.Token == "" {
		return verdictNoConfig
	}
	if !secure.EqualHex(secure.SHA256(acc.Email+":"+acc.Hiatus.Token), auth.Hash) {
		return verdictHashMismatch
	}
	return verdictOK
}
