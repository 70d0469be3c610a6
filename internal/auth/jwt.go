package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxTokenLen bounds the work done on attacker-controlled input before any
// signature check happens.
const maxTokenLen = 16 * 1024

type JWTOptions struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
	// Now overrides the verification clock (tests).
	Now func() time.Time
}

// Claims is the token payload. The subject may be carried either as the
// registered `sub` claim or as an application `id` claim (string or number).
type Claims struct {
	UserID any    `json:"id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) subject() string {
	if s := strings.TrimSpace(c.Subject); s != "" {
		return s
	}
	switch v := c.UserID.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(opts JWTOptions) (*JWTVerifier, error) {
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithJSONNumber(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}
	if opts.Now != nil {
		parserOpts = append(parserOpts, jwt.WithTimeFunc(opts.Now))
	}
	return &JWTVerifier{
		secret: []byte(opts.Secret),
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrMissingCredentials
	}
	if len(token) > maxTokenLen {
		return Identity{}, ErrInvalidCredentials
	}

	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %v", ErrExpiredCredentials, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	sub := claims.subject()
	if sub == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrInvalidCredentials)
	}
	return Identity{SubjectID: sub, Email: claims.Email}, nil
}

// TokenRequest describes a token minted by IssueToken.
type TokenRequest struct {
	Subject  string
	Email    string
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      time.Time
}

// IssueToken signs an HS256 token accepted by JWTVerifier. It backs the
// `token` CLI command and tests.
func IssueToken(secret string, req TokenRequest) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return "", errors.New("subject is required")
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	claims := Claims{
		Email: req.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  req.Subject,
			Issuer:   req.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}
	if req.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(req.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
