package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is what the manager reads out of a JWT-shaped credential.
// Nothing here is trusted: the signature is never checked.
type claims struct {
	UserID    int64
	ExpiresAt time.Time
}

var unverifiedParser = jwt.NewParser()

// inspectClaims decodes sub/exp from a JWT without verifying it.
// Opaque credentials report ok=false.
func inspectClaims(credential string) (claims, bool) {
	if strings.Count(credential, ".") != 2 {
		return claims{}, false
	}

	mc := jwt.MapClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(credential, mc); err != nil {
		return claims{}, false
	}

	var out claims
	if sub, err := mc.GetSubject(); err == nil && sub != "" {
		if id, err := strconv.ParseInt(sub, 10, 64); err == nil && id > 0 {
			out.UserID = id
		}
	}
	if out.UserID == 0 {
		switch v := mc["user_id"].(type) {
		case float64:
			if v > 0 {
				out.UserID = int64(v)
			}
		case string:
			if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
				out.UserID = id
			}
		}
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, true
}
