package handler

import (
	"net/http"

	"github.com/edupulse/proctor-backend/internal/middleware"
	"github.com/edupulse/proctor-backend/internal/model"
	"github.com/edupulse/proctor-backend/internal/repository"
	"github.com/edupulse/proctor-backend/internal/response"
	"github.com/edupulse/proctor-backend/internal/service"
	"github.com/edupulse/proctor-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	accounts    *repository.AccountRepository
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, accounts *repository.AccountRepository, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		accounts:    accounts,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

// ProctorLogin godoc
// POST /api/v1/auth/proctor/login
// Validates email + password and returns a proctor JWT.
func (h *AuthHandler) ProctorLogin(c *gin.Context) {
	var req model.ProctorLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	account, err := h.accounts.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if !h.authService.CheckPassword(account.PasswordHash, req.Password) {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateProctorToken(account.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to sign proctor token")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"proctor": gin.H{
			"id":    account.ID,
			"email": account.Email,
			"name":  account.Name,
		},
	})
}

// GetProctorProfile godoc
// GET /api/v1/auth/proctor/me
// Returns the profile of the currently authenticated proctor.
func (h *AuthHandler) GetProctorProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	account, err := h.accounts.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"proctor": gin.H{
			"id":    account.ID,
			"email": account.Email,
			"name":  account.Name,
		},
	})
}
