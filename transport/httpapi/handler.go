package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/dmarcauth"
	"github.com/MrEthical07/dmarcauth/jwt"
	"github.com/MrEthical07/dmarcauth/middleware"
	"github.com/MrEthical07/dmarcauth/saml"
)

// Service is the part of *dmarcauth.Engine the routes call.
type Service interface {
	middleware.AccessValidator
	Login(ctx context.Context, email, password string) (*dmarcauth.LoginResult, error)
	LoginWithTOTP(ctx context.Context, tempToken, code string) (*dmarcauth.LoginResult, error)
	LoginWithRecoveryCode(ctx context.Context, tempToken, code string) (*dmarcauth.LoginResult, error)
	LoginWithSAML(ctx context.Context, profile saml.Profile) (*dmarcauth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken, accessToken string) (dmarcauth.Tokens, error)
	Logout(ctx context.Context, userID, refreshToken string)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	BeginTOTPSetup(ctx context.Context, userID string) (*dmarcauth.TOTPSetup, error)
	EnableTOTP(ctx context.Context, userID, secret, code string) ([]string, error)
	DisableTOTP(ctx context.Context, userID, password, code string) error
	GenerateRecoveryCodes(ctx context.Context, userID, totpCode string) ([]string, error)
}

type Handler struct {
	auth   Service
	logger *slog.Logger
}

func NewHandler(auth Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{auth: auth, logger: logger}
}

// NewRouter returns a gin engine with recovery, client-IP capture, the
// auth routes and /healthz.
func NewRouter(auth Service, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.ClientIP())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	NewHandler(auth, logger).RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/auth")
	g.POST("/login", h.Login)
	g.POST("/login/totp", h.LoginTOTP)
	g.POST("/login/recovery-code", h.LoginRecoveryCode)
	g.POST("/refresh", h.Refresh)
	g.POST("/saml/callback", h.SAMLCallback)

	authed := g.Group("", middleware.RequireAccess(h.auth))
	authed.POST("/logout", h.Logout)
	authed.POST("/password/change", h.ChangePassword)
	authed.POST("/totp/setup", h.TOTPSetup)
	authed.POST("/totp/enable", h.TOTPEnable)
	authed.POST("/totp/disable", h.TOTPDisable)
	authed.POST("/recovery-codes/generate", h.GenerateRecoveryCodes)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type secondFactorRequest struct {
	TempToken string `json:"temp_token" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	AccessToken  string `json:"access_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type enableTOTPRequest struct {
	Secret string `json:"secret" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

type disableTOTPRequest struct {
	Password string `json:"password"`
	Code     string `json:"code" binding:"required"`
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

type samlProfileRequest struct {
	ID           string              `json:"id"`
	Issuer       string              `json:"issuer" binding:"required"`
	InResponseTo string              `json:"in_response_to"`
	SessionIndex string              `json:"session_index"`
	NameID       string              `json:"name_id"`
	Email        string              `json:"email"`
	Audiences    []string            `json:"audiences"`
	Recipient    string              `json:"recipient"`
	NotBefore    time.Time           `json:"not_before"`
	NotOnOrAfter time.Time           `json:"not_on_or_after"`
	Attributes   map[string][]string `json:"attributes"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	FamilyID         string    `json:"family_id"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	*tokenResponse
	TOTPRequired bool   `json:"totp_required,omitempty"`
	TempToken    string `json:"temp_token,omitempty"`
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

func tokensBody(t dmarcauth.Tokens) *tokenResponse {
	return &tokenResponse{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		FamilyID:         t.FamilyID,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

func loginBody(res *dmarcauth.LoginResult) loginResponse {
	if res.TOTPRequired {
		return loginResponse{TOTPRequired: true, TempToken: res.TempToken}
	}
	return loginResponse{tokenResponse: tokensBody(res.Tokens)}
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginBody(res))
}

func (h *Handler) LoginTOTP(c *gin.Context) {
	var req secondFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	res, err := h.auth.LoginWithTOTP(c.Request.Context(), req.TempToken, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginBody(res))
}

func (h *Handler) LoginRecoveryCode(c *gin.Context) {
	var req secondFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	res, err := h.auth.LoginWithRecoveryCode(c.Request.Context(), req.TempToken, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginBody(res))
}

// Refresh takes the access token from the body or, failing that, the
// Authorization header. It may be expired.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	access := req.AccessToken
	if access == "" {
		access, _ = middleware.BearerToken(c)
	}
	tokens, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, access)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokensBody(tokens))
}

func (h *Handler) SAMLCallback(c *gin.Context) {
	var req samlProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	res, err := h.auth.LoginWithSAML(c.Request.Context(), saml.Profile{
		ID:           req.ID,
		Issuer:       req.Issuer,
		InResponseTo: req.InResponseTo,
		SessionIndex: req.SessionIndex,
		NameID:       req.NameID,
		Email:        req.Email,
		Audiences:    req.Audiences,
		Recipient:    req.Recipient,
		NotBefore:    req.NotBefore,
		NotOnOrAfter: req.NotOnOrAfter,
		Attributes:   req.Attributes,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginBody(res))
}

func (h *Handler) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)
	h.auth.Logout(c.Request.Context(), subject(c).UserID, req.RefreshToken)
	c.Status(http.StatusNoContent)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := h.auth.ChangePassword(c.Request.Context(), subject(c).UserID, req.OldPassword, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) TOTPSetup(c *gin.Context) {
	setup, err := h.auth.BeginTOTPSetup(c.Request.Context(), subject(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": setup.Secret, "uri": setup.URI})
}

func (h *Handler) TOTPEnable(c *gin.Context) {
	var req enableTOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	codes, err := h.auth.EnableTOTP(c.Request.Context(), subject(c).UserID, req.Secret, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (h *Handler) TOTPDisable(c *gin.Context) {
	var req disableTOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	if err := h.auth.DisableTOTP(c.Request.Context(), subject(c).UserID, req.Password, req.Code); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GenerateRecoveryCodes(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	codes, err := h.auth.GenerateRecoveryCodes(c.Request.Context(), subject(c).UserID, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func subject(c *gin.Context) jwt.Subject {
	s, _ := middleware.Subject(c)
	return s
}
