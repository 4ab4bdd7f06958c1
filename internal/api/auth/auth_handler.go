package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/FACorreiaa/go-city-concierge/internal/api"
)

type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

func NewAuthHandler(service AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "username, email and password are required")
		return
	}

	if err := h.service.Register(r.Context(), req.Username, req.Email, req.Password); err != nil {
		if errors.Is(err, ErrConflict) {
			api.ErrorResponse(w, r, http.StatusConflict, "Email or username already registered")
			return
		}
		h.logger.ErrorContext(r.Context(), "Registration failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to register user")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, api.Response{
		Success: true,
		Message: "User registered successfully",
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	accessToken, refreshToken, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Login failed", slog.String("email", req.Email))
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication failed")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, api.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Message:      "Login successful",
	})
}

func (h *AuthHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	var req api.RefreshTokenRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "refresh token is required")
		return
	}

	accessToken, refreshToken, err := h.service.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, api.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req api.LogoutRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "refresh token is required")
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.logger.ErrorContext(r.Context(), "Logout failed", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to logout")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, api.Response{
		Success: true,
		Message: "Logged out successfully",
	})
}
