package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/FACorreiaa/go-city-concierge/config"
	"github.com/FACorreiaa/go-city-concierge/internal/api"
)

type AuthService interface {
	Register(ctx context.Context, username, email, password string) error
	Login(ctx context.Context, email, password string) (string, string, error)
	RefreshSession(ctx context.Context, refreshToken string) (string, string, error)
	Logout(ctx context.Context, refreshToken string) error
}

type AuthServiceImpl struct {
	logger *slog.Logger
	repo   AuthRepo
	jwtCfg config.JWTConfig
}

var _ AuthService = (*AuthServiceImpl)(nil)

func NewAuthService(repo AuthRepo, jwtCfg config.JWTConfig, logger *slog.Logger) *AuthServiceImpl {
	return &AuthServiceImpl{
		logger: logger,
		repo:   repo,
		jwtCfg: jwtCfg,
	}
}

func (s *AuthServiceImpl) Register(ctx context.Context, username, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	now := time.Now()
	return s.repo.CreateUser(ctx, User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (string, string, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return "", "", ErrUnauthenticated
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", "", ErrUnauthenticated
	}
	return s.issueTokens(ctx, user)
}

func (s *AuthServiceImpl) RefreshSession(ctx context.Context, refreshToken string) (string, string, error) {
	rt, err := s.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", "", ErrUnauthenticated
	}
	if time.Now().After(rt.ExpiresAt) || rt.RevokedAt != nil {
		return "", "", ErrUnauthenticated
	}
	user, err := s.repo.GetUserByID(ctx, rt.UserID)
	if err != nil {
		return "", "", ErrUnauthenticated
	}

	accessToken, newRefreshToken, err := s.issueTokens(ctx, user)
	if err != nil {
		return "", "", err
	}
	if err := s.repo.InvalidateRefreshToken(ctx, refreshToken); err != nil {
		s.logger.WarnContext(ctx, "Failed to revoke rotated refresh token", slog.Any("error", err))
	}
	return accessToken, newRefreshToken, nil
}

func (s *AuthServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	return s.repo.InvalidateRefreshToken(ctx, refreshToken)
}

func (s *AuthServiceImpl) issueTokens(ctx context.Context, user *User) (string, string, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken := uuid.NewString()
	if err := s.repo.StoreRefreshToken(ctx, user.ID, refreshToken, time.Now().Add(s.refreshTTL())); err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (s *AuthServiceImpl) generateAccessToken(user *User) (string, error) {
	if s.jwtCfg.SecretKey == "" {
		return "", errors.New("JWT secret key is not configured")
	}
	now := time.Now()
	claims := api.Claims{
		UserID:   user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    s.jwtCfg.Issuer,
			Audience:  jwt.ClaimStrings{s.jwtCfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL())),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtCfg.SecretKey))
}

func (s *AuthServiceImpl) accessTTL() time.Duration {
	if s.jwtCfg.AccessTTL > 0 {
		return s.jwtCfg.AccessTTL
	}
	return 30 * time.Minute
}

func (s *AuthServiceImpl) refreshTTL() time.Duration {
	if s.jwtCfg.RefreshTTL > 0 {
		return s.jwtCfg.RefreshTTL
	}
	return 7 * 24 * time.Hour
}
