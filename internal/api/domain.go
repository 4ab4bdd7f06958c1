package api

import (
	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest is the expected JSON body for user registration.
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest is the expected JSON body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the successful JSON response after login.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Message      string `json:"message"`
}

// RefreshTokenRequest carries the refresh token obtained during login.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse is the successful JSON response after refreshing tokens.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest carries the refresh token to invalidate.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Response is a generic API response for success or error messages.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Claims are the custom claims carried by the JWT access token.
type Claims struct {
	UserID               string `json:"uid"`
	Username             string `json:"usr,omitempty"`
	Email                string `json:"eml"`
	jwt.RegisteredClaims
}
