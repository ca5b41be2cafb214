package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/pixelbase/pixelbase-backend/internal/platform/apierr"
	"github.com/pixelbase/pixelbase-backend/internal/platform/envutil"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/repos"
	"github.com/pixelbase/pixelbase-backend/internal/types"
)

const (
	apiKeyPrefix    = "if_"
	apiKeyRandBytes = 24
	keyPrefixLen    = 10
)

type AuthConfig struct {
	JWTSecret string
	AccessTTL time.Duration
}

func ResolveAuthConfig() (AuthConfig, error) {
	cfg := AuthConfig{
		JWTSecret: envutil.String("JWT_SECRET", ""),
		AccessTTL: envutil.Duration("JWT_ACCESS_TTL", 24*time.Hour),
	}
	if cfg.JWTSecret == "" {
		return cfg, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

// CreatedAPIKey carries the plaintext key exactly once, at creation.
type CreatedAPIKey struct {
	Key    *types.APIKey `json:"api_key"`
	Secret string        `json:"secret"`
}

type AuthService interface {
	Register(ctx context.Context, email, password, fullName string) (*types.User, error)
	Login(ctx context.Context, email, password string) (string, *types.User, error)
	ParseToken(ctx context.Context, tokenString string) (*types.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, fullName string) (*types.User, error)
	CreateAPIKey(ctx context.Context, userID uuid.UUID, name string) (*CreatedAPIKey, error)
	AuthenticateAPIKey(ctx context.Context, secret string) (*types.User, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]types.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error
}

type authService struct {
	log     *logger.Logger
	users   repos.UserRepo
	apiKeys repos.APIKeyRepo
	cfg     AuthConfig
}

func NewAuthService(users repos.UserRepo, apiKeys repos.APIKeyRepo, cfg AuthConfig, log *logger.Logger) AuthService {
	return &authService{
		log:     log.With("service", "AuthService"),
		users:   users,
		apiKeys: apiKeys,
		cfg:     cfg,
	}
}

func (s *authService) Register(ctx context.Context, email, password, fullName string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apierr.Invalid("a valid email is required")
	}
	if len(password) < 8 {
		return nil, apierr.Invalid("password must be at least 8 characters")
	}
	if _, err := s.users.GetByEmail(ctx, nil, email); err == nil {
		return nil, apierr.Conflict("email already registered")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &types.User{
		ID:             uuid.New(),
		Email:          email,
		HashedPassword: string(hashed),
		FullName:       strings.TrimSpace(fullName),
		IsActive:       true,
	}
	if err := s.users.Create(ctx, nil, user); err != nil {
		return nil, err
	}
	s.log.Info("User registered", "user_id", user.ID.String())
	return user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (string, *types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, nil, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, apierr.Unauthorized("invalid credentials")
		}
		return "", nil, err
	}
	if !user.IsActive {
		return "", nil, apierr.Unauthorized("account is disabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return "", nil, apierr.Unauthorized("invalid credentials")
	}

	token, err := s.generateAccessToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func (s *authService) generateAccessToken(user *types.User) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":   user.ID.String(),
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.AccessTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *authService) ParseToken(ctx context.Context, tokenString string) (*types.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, apierr.Unauthorized("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierr.Unauthorized("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, apierr.Unauthorized("invalid token subject")
	}
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		return nil, apierr.Unauthorized("unknown user")
	}
	if !user.IsActive {
		return nil, apierr.Unauthorized("account is disabled")
	}
	return user, nil
}

// CreateAPIKey mints a key and stores only its SHA-256. The plaintext
// is returned once and never again recoverable.
func (s *authService) UpdateProfile(ctx context.Context, userID uuid.UUID, fullName string) (*types.User, error) {
	user, err := s.users.GetByID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound("user")
		}
		return nil, err
	}
	user.FullName = strings.TrimSpace(fullName)
	if err := s.users.Update(ctx, nil, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *authService) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string) (*CreatedAPIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierr.Invalid("api key name is required")
	}
	raw := make([]byte, apiKeyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}
	secret := apiKeyPrefix + hex.EncodeToString(raw)

	key := &types.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hashAPIKey(secret),
		KeyPrefix: secret[:keyPrefixLen],
	}
	if err := s.apiKeys.Create(ctx, nil, key); err != nil {
		return nil, err
	}
	return &CreatedAPIKey{Key: key, Secret: secret}, nil
}

func (s *authService) AuthenticateAPIKey(ctx context.Context, secret string) (*types.User, error) {
	if !strings.HasPrefix(secret, apiKeyPrefix) {
		return nil, apierr.Unauthorized("invalid api key")
	}
	key, err := s.apiKeys.GetByHash(ctx, nil, hashAPIKey(secret))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.Unauthorized("invalid api key")
		}
		return nil, err
	}
	user, err := s.users.GetByID(ctx, nil, key.UserID)
	if err != nil {
		return nil, apierr.Unauthorized("invalid api key")
	}
	if !user.IsActive {
		return nil, apierr.Unauthorized("account is disabled")
	}
	if err := s.apiKeys.TouchLastUsed(ctx, nil, key.ID); err != nil {
		s.log.Warn("Failed to touch api key", "key_id", key.ID.String(), "error", err)
	}
	return user, nil
}

func (s *authService) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]types.APIKey, error) {
	return s.apiKeys.ListByUser(ctx, nil, userID)
}

func (s *authService) DeleteAPIKey(ctx context.Context, userID, keyID uuid.UUID) error {
	return s.apiKeys.Delete(ctx, nil, keyID, userID)
}

func hashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
