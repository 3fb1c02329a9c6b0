package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenAudience = "relayfeed"
	anyFeed       = "*"

	scopeFeedRead    = "feed:read"
	scopeFeedWrite   = "feed:write"
	scopeFeedPublish = "feed:publish"
	scopeAdminRead   = "admin:read"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: message}
}

func forbidden(message string) *authError {
	return &authError{status: http.StatusForbidden, code: "forbidden", message: message}
}

// FeedClaims is the bearer token payload. FeedID may be "*" for tokens that
// span every feed; Subject names the author recorded on created entries.
type FeedClaims struct {
	FeedID string           `json:"feed_id"`
	Role   string           `json:"role"`
	Scopes jwt.ClaimStrings `json:"scopes"`
	jwt.RegisteredClaims
}

type tokenClaims struct {
	FeedID  string
	Role    timeline.Role
	Subject string
	Scopes  map[string]struct{}
}

// Scope is the widest visibility scope the token may read.
func (c tokenClaims) Scope() timeline.Scope {
	return timeline.ScopeFor(c.Role)
}

func (c tokenClaims) hasScope(scope string) bool {
	_, ok := c.Scopes[scope]
	return ok
}

// IssueToken signs a token for feedID. It is used by the CLI and tests to
// mint development credentials.
func IssueToken(secret, feedID, subject string, role timeline.Role, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := FeedClaims{
		FeedID: feedID,
		Role:   string(role),
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authorizeBearer(authHeader, jwtSecret, feedID, requiredScope string, now time.Time) (tokenClaims, *authError) {
	claims, err := parseBearer(authHeader, jwtSecret, now)
	if err != nil {
		return tokenClaims{}, err
	}
	if feedID != "" && claims.FeedID != anyFeed && claims.FeedID != feedID {
		return tokenClaims{}, forbidden("feed mismatch")
	}
	if requiredScope != "" && !claims.hasScope(requiredScope) {
		return tokenClaims{}, forbidden("missing required scope: " + requiredScope)
	}
	return claims, nil
}

func parseBearer(authHeader, jwtSecret string, now time.Time) (tokenClaims, *authError) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return tokenClaims{}, unauthorized("missing or invalid bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	var parsed FeedClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return tokenClaims{}, unauthorized("token expired")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return tokenClaims{}, unauthorized("invalid aud claim")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return tokenClaims{}, unauthorized("jwt signature mismatch")
	default:
		return tokenClaims{}, unauthorized("invalid jwt: " + err.Error())
	}

	if strings.TrimSpace(parsed.FeedID) == "" {
		return tokenClaims{}, unauthorized("missing feed_id claim")
	}
	role, roleErr := timeline.ParseRole(parsed.Role)
	if roleErr != nil {
		return tokenClaims{}, unauthorized("missing role claim")
	}
	scopes := parseScopes(parsed.Scopes)
	if len(scopes) == 0 {
		return tokenClaims{}, forbidden("no scopes granted")
	}
	return tokenClaims{
		FeedID:  strings.TrimSpace(parsed.FeedID),
		Role:    role,
		Subject: strings.TrimSpace(parsed.Subject),
		Scopes:  scopes,
	}, nil
}

// parseScopes accepts both a JSON array and a space separated string.
func parseScopes(raw jwt.ClaimStrings) map[string]struct{} {
	out := map[string]struct{}{}
	for _, item := range raw {
		for _, scope := range strings.Fields(item) {
			out[scope] = struct{}{}
		}
	}
	return out
}
