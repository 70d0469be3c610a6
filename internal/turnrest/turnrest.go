// Package turnrest mints coturn-compatible TURN REST (use-auth-secret)
// credentials.
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<user_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
	Now            func() time.Time
	// RandomID backs GenerateRandom. Defaults to a UUIDv4.
	RandomID func() string
}

type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string
	now            func() time.Time
	randomID       func() string
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RandomID == nil {
		cfg.RandomID = func() string { return uuid.NewString() }
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
		randomID:       cfg.RandomID,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Generate mints credentials for userID, which must be non-empty and free of
// ':' since coturn splits the username on it.
func (g *Generator) Generate(userID string) (Credentials, error) {
	if userID == "" {
		return Credentials{}, errors.New("user id is required")
	}
	if strings.Contains(userID, ":") {
		return Credentials{}, errors.New("user id must not contain ':'")
	}
	expiryUnix := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiryUnix, g.usernamePrefix, userID)
	return Credentials{
		Username:   username,
		Credential: signUsername(g.sharedSecret, username),
		ExpiryUnix: expiryUnix,
	}, nil
}

// GenerateForSubject mints credentials bound to an authenticated subject.
// The subject is hashed so arbitrary identifiers (emails, URNs) are safe to
// embed and are not disclosed to the TURN server logs.
func (g *Generator) GenerateForSubject(subject string) (Credentials, error) {
	if subject == "" {
		return g.GenerateRandom()
	}
	sum := sha256.Sum256([]byte(subject))
	return g.Generate(base64.RawURLEncoding.EncodeToString(sum[:12]))
}

func (g *Generator) GenerateRandom() (Credentials, error) {
	return g.Generate(g.randomID())
}

func signUsername(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
