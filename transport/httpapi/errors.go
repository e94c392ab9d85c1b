package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/dmarcauth"
)

const codeInvalidRequest = "INVALID_REQUEST"

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var messages = map[string]string{
	dmarcauth.CodeInvalidCredentials:   "invalid credentials",
	dmarcauth.CodeInvalidToken:         "invalid token",
	dmarcauth.CodeExpiredToken:         "token expired",
	dmarcauth.CodeSessionCompromised:   "session compromised, sign in again",
	dmarcauth.CodeInvalidTotpCode:      "invalid code",
	dmarcauth.CodeTotpNotEnabled:       "two-factor authentication is not enabled",
	dmarcauth.CodeTotpAlreadyEnabled:   "two-factor authentication is already enabled",
	dmarcauth.CodeInvalidRecoveryCode:  "invalid recovery code",
	dmarcauth.CodeRateLimited:          "too many attempts",
	dmarcauth.CodeSamlReplay:           "assertion already used",
	dmarcauth.CodeSamlAssertionInvalid: "assertion rejected",
	dmarcauth.CodePasswordPolicy:       "password does not meet policy",
	dmarcauth.CodeConfiguration:        "not configured",
	dmarcauth.CodeUnavailable:          "service unavailable",
	dmarcauth.CodeInternal:             "internal error",
}

func statusOf(code string) int {
	switch code {
	case dmarcauth.CodeRateLimited:
		return http.StatusTooManyRequests
	case dmarcauth.CodePasswordPolicy, dmarcauth.CodeTotpNotEnabled, dmarcauth.CodeTotpAlreadyEnabled:
		return http.StatusBadRequest
	case dmarcauth.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dmarcauth.CodeConfiguration, dmarcauth.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := dmarcauth.ErrorCode(err)
	status := statusOf(code)

	var rl *dmarcauth.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "auth request failed",
			"path", c.FullPath(),
			"code", code,
			"error", err,
		)
	}
	c.JSON(status, errorResponse{Code: code, Message: messages[code]})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, errorResponse{Code: codeInvalidRequest, Message: "invalid payload"})
}
