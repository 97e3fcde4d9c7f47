package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
)

// Errors returned by ParseBearer.
var (
	ErrMissingBearer  = errors.New("missing bearer token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidSubject = errors.New("invalid subject")
)

// ParseBearer verifies an "Authorization: Bearer <jwt>" header value and
// returns the token and the caller it names.  Only HMAC tokens signed with
// secret are accepted.
func ParseBearer(secret, header string) (*jwt.Token, model.Actor, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, model.Actor{}, ErrMissingBearer
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return nil, model.Actor{}, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, model.Actor{}, ErrInvalidToken
	}
	actor, ok := actorFromClaims(claims)
	if !ok {
		return nil, model.Actor{}, ErrInvalidSubject
	}
	return tok, actor, nil
}

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the caller identity into the request context.  The provided secret
// must match the one used when issuing tokens.  Handlers read the identity
// through ActorFrom, or the raw claims via c.Get("user_id") and c.Get("role").
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok, actor, err := ParseBearer(secret, c.Request().Header.Get("Authorization"))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": err.Error()})
			}
			c.Set("user", tok)
			c.Set("user_id", actor.UserID)
			c.Set("role", actor.Role)
			c.Set(ActorKey, actor)
			return next(c)
		}
	}
}
