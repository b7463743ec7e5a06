/*
auth.go - Identity middleware

PURPOSE:
  Turns the caller's credentials into a booking.Actor{ID, Role} stored in
  the request context. Handlers never read headers themselves; they call
  actorFrom(r.Context()).

MODES:
  Bearer (JWT_SECRET set):
    Authorization: Bearer <HS256 JWT>
    claims: sub = user id, role = "guardian" | "admin", exp optional

  Dev (no secret):
    X-User-ID:   user id
    X-User-Role: guardian | admin   (default guardian)
    Only for local runs and demos. main logs a warning when it is active.

ERRORS:
  401 when credentials are missing or invalid. 403 from RequireAdmin.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/coaching-engine/booking"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

type actorKey struct{}

var errUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the acting user for each request.
type Authenticator struct {
	// Secret signs and verifies HS256 bearer tokens. Empty selects dev
	// header mode.
	Secret []byte
}

// Middleware rejects requests without a valid identity.
func (a Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Authentication required", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (a Authenticator) resolve(r *http.Request) (booking.Actor, error) {
	if len(a.Secret) == 0 {
		role := booking.Role(strings.ToLower(r.Header.Get(HeaderUserRole)))
		if role == "" {
			role = booking.RoleGuardian
		}
		return newActor(r.Header.Get(HeaderUserID), role)
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return booking.Actor{}, fmt.Errorf("%w: missing bearer token", errUnauthenticated)
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil || !tok.Valid {
		return booking.Actor{}, fmt.Errorf("%w: invalid token", errUnauthenticated)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return booking.Actor{}, fmt.Errorf("%w: invalid claims", errUnauthenticated)
	}
	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	return newActor(sub, booking.Role(strings.ToLower(role)))
}

func newActor(id string, role booking.Role) (booking.Actor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return booking.Actor{}, fmt.Errorf("%w: missing user id", errUnauthenticated)
	}
	if !role.Valid() {
		return booking.Actor{}, fmt.Errorf("%w: unknown role %q", errUnauthenticated, role)
	}
	return booking.Actor{ID: booking.UserID(id), Role: role}, nil
}

// IssueToken signs an HS256 token for actor, valid for ttl (0 = no expiry).
func IssueToken(secret []byte, actor booking.Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  string(actor.ID),
		"role": string(actor.Role),
		"iat":  now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// RequireAdmin lets only admin actors through.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := actorFrom(r.Context()); !ok || !actor.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin role required", booking.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withActor(ctx context.Context, actor booking.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) (booking.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(booking.Actor)
	return actor, ok
}
