// Package auth resolves the caller of a turn from its bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/PabloGalante/lotus-agent/internal/domain"
)

var (
	ErrMissingHeader = errors.New("missing bearer authorization header")
	ErrNoSubject     = errors.New("no user id in token")
)

// BearerAuthenticator turns an Authorization header into a user id.
//
// With a secret the token must be an HS256 JWT signed with it. Without one
// the payload is only decoded, which is how tokens issued by an upstream
// identity provider are trusted behind a verifying gateway.
type BearerAuthenticator struct {
	secret         []byte
	profiles       domain.ProfileStore
	requireProfile bool
}

func NewBearerAuthenticator(secret string, profiles domain.ProfileStore, requireProfile bool) *BearerAuthenticator {
	a := &BearerAuthenticator{
		profiles:       profiles,
		requireProfile: requireProfile && profiles != nil,
	}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

// Authenticate returns the token subject. Failures are *domain.AuthError.
func (a *BearerAuthenticator) Authenticate(ctx context.Context, header string) (domain.UserID, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", &domain.AuthError{Code: domain.AuthFailed, Err: ErrMissingHeader}
	}

	claims := jwt.MapClaims{}
	if err := a.parse(token, claims); err != nil {
		return "", &domain.AuthError{Code: domain.AuthFailed, Err: fmt.Errorf("jwt decode failed: %w", err)}
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", &domain.AuthError{Code: domain.AuthFailed, Err: ErrNoSubject}
	}
	userID := domain.UserID(sub)

	if a.requireProfile {
		exists, err := a.profiles.ProfileExists(ctx, userID)
		if err != nil {
			return "", &domain.AuthError{Code: domain.ProfileLookupFailed, Err: err}
		}
		if !exists {
			return "", &domain.AuthError{Code: domain.ProfileNotFound, Err: fmt.Errorf("%w: %s", domain.ErrProfileNotFound, userID)}
		}
	}

	return userID, nil
}

func (a *BearerAuthenticator) parse(token string, claims jwt.MapClaims) error {
	if a.secret == nil {
		_, _, err := jwt.NewParser().ParseUnverified(token, claims)
		return err
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return err
}
