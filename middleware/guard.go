package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/dmarcauth"
	"github.com/MrEthical07/dmarcauth/jwt"
)

const subjectKey = "dmarcauth.subject"

type subjectContextKey struct{}

// AccessValidator verifies access tokens.
type AccessValidator interface {
	ValidateAccess(token string) (jwt.Subject, error)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubjectFromContext returns the subject stored by RequireAccess.
func SubjectFromContext(ctx context.Context) (jwt.Subject, bool) {
	s, ok := ctx.Value(subjectContextKey{}).(jwt.Subject)
	return s, ok
}

// Subject returns the subject stored by RequireAccess on c.
func Subject(c *gin.Context) (jwt.Subject, bool) {
	v, ok := c.Get(subjectKey)
	if !ok {
		return jwt.Subject{}, false
	}
	s, ok := v.(jwt.Subject)
	return s, ok
}

// RequireAccess aborts with 401 unless the request carries a valid
// "Authorization: Bearer" access token.
func RequireAccess(v AccessValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil {
			abort(c, http.StatusUnauthorized, dmarcauth.CodeInvalidToken, "unauthorized")
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, http.StatusUnauthorized, dmarcauth.CodeInvalidToken, "unauthorized")
			return
		}

		subject, err := v.ValidateAccess(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, dmarcauth.ErrorCode(err), "unauthorized")
			return
		}

		c.Set(subjectKey, subject)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), subjectContextKey{}, subject))
		c.Next()
	}
}

// RequireRole must run after RequireAccess.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, ok := Subject(c)
		if !ok || !slices.Contains(roles, subject.Role) {
			abort(c, http.StatusForbidden, "FORBIDDEN", "forbidden")
			return
		}
		c.Next()
	}
}

// ClientIP attaches gin's resolved client address to the request context
// with dmarcauth.WithClientIP.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(dmarcauth.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) (string, bool) {
	return bearerToken(c.GetHeader("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Code: code, Message: message})
}
