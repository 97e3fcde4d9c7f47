package middleware

// identity.go turns verified JWT claims into the model.Actor capability that
// handlers pass into every service call, and provides the user id used to
// key rate limits.

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/hospital-bed-manager/internal/model"
)

// ActorKey is the echo context key under which JWTAuth stores the caller.
const ActorKey = "actor"

// ActorFrom returns the authenticated caller stored by JWTAuth.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	a, ok := c.Get(ActorKey).(model.Actor)
	return a, ok && a.UserID != 0
}

// actorFromClaims reads "sub" and "role".  Tokens issued by older builds
// carried sub as a JSON number; both forms are accepted.
func actorFromClaims(claims jwt.MapClaims) (model.Actor, bool) {
	var id uint64
	switch v := claims["sub"].(type) {
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return model.Actor{}, false
		}
		id = n
	case float64:
		if v <= 0 {
			return model.Actor{}, false
		}
		id = uint64(v)
	default:
		return model.Actor{}, false
	}
	if id == 0 {
		return model.Actor{}, false
	}
	role, _ := claims["role"].(string)
	return model.Actor{UserID: id, Role: model.NormalizeRole(role)}, true
}

// currentUserID extracts a user identifier for rate-limit keys.  It returns
// "anon" when no user is authenticated.
func currentUserID(c echo.Context) string {
	if a, ok := ActorFrom(c); ok {
		return strconv.FormatUint(a.UserID, 10)
	}
	if v := c.Get("user_id"); v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return "anon"
}
