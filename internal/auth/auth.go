package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
)

// Identity is the authenticated principal behind a signaling connection. It is
// derived once from the credential presented at connect time.
type Identity struct {
	SubjectID string
	Email     string
}

// AnonymousSubject is the SubjectID assigned when AUTH_MODE=none.
const AnonymousSubject = "anonymous"

type Verifier interface {
	Verify(credential string) (Identity, error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return AnonymousVerifier{}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(JWTOptions{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrExpiredCredentials = errors.New("expired credentials")
)

// IsUnauthorized reports whether err means the caller should be answered with
// 401 rather than a server error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrExpiredCredentials)
}

// AnonymousVerifier accepts every connection. Only meant for local development.
type AnonymousVerifier struct{}

func (AnonymousVerifier) Verify(string) (Identity, error) {
	return Identity{SubjectID: AnonymousSubject}, nil
}

// CredentialFromRequest extracts the bearer credential from an HTTP request.
//
// The Authorization header wins over the `token` query parameter. Browsers
// cannot set headers on WebSocket upgrades, so the query form is the common
// path for signaling clients.
func CredentialFromRequest(r *http.Request) (string, error) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", ErrInvalidCredentials
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return "", ErrMissingCredentials
		}
		return token, nil
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}
	return "", ErrMissingCredentials
}

// Authenticate is the single gate used by HTTP and WebSocket handlers.
func Authenticate(v Verifier, r *http.Request) (Identity, error) {
	if _, ok := v.(AnonymousVerifier); ok {
		return v.Verify("")
	}
	cred, err := CredentialFromRequest(r)
	if err != nil {
		return Identity{}, err
	}
	return v.Verify(cred)
}
