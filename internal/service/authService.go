package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aman-churiwal/property-listings/internal/models"
	"github.com/aman-churiwal/property-listings/internal/repository"
	"github.com/aman-churiwal/property-listings/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLen = 8
	// bcrypt only hashes the first 72 bytes and refuses longer input
	maxPasswordLen = 72
)

// Compared against when the username is unknown, so that branch costs the
// same as a wrong password
var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
})

func checkPassword(password string) error {
	if len(password) < minPasswordLen {
		return invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if len(password) > maxPasswordLen {
		return invalid(fmt.Sprintf("password must be at most %d bytes", maxPasswordLen))
	}
	return nil
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9@.+_-]{3,150}$`)

type AuthService struct {
	repo      *repository.UserRepository
	redis     *storage.RedisClient
	jwtSecret []byte // Stored in env (JWT_SECRET)
	jwtExpiry time.Duration
	resetTTL  time.Duration
	logger    *slog.Logger
}

type AuthConfig struct {
	JWTSecret        string
	JWTExpiryHours   int
	PasswordResetTTL time.Duration
}

func NewAuthService(repo *repository.UserRepository, redis *storage.RedisClient, cfg AuthConfig) *AuthService {
	return &AuthService{
		repo:      repo,
		redis:     redis,
		jwtSecret: []byte(cfg.JWTSecret),
		jwtExpiry: time.Duration(cfg.JWTExpiryHours) * time.Hour,
		resetTTL:  cfg.PasswordResetTTL,
		logger:    slog.Default().With("component", "auth"),
	}
}

// Creates a new user with the default role
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if !usernamePattern.MatchString(username) {
		return nil, invalid("username must be 3-150 letters, digits or @.+-_")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, invalid("email is not a valid address")
	}
	if err := checkPassword(password); err != nil {
		return nil, err
	}

	existingUser, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existingUser != nil {
		return nil, fmt.Errorf("%w: username already taken", ErrConflict)
	}

	existingUser, err = s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existingUser != nil {
		return nil, fmt.Errorf("%w: user with this email already exists", ErrConflict)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         models.RoleUser,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: username or email already taken", ErrConflict)
		}
		return nil, err
	}

	return user, nil
}

// Authenticates a user and returns a JWT token
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", nil, err
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return "", nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID.String(),
		"username": user.Username,
		"role":     user.Role,
		"exp":      now.Add(s.jwtExpiry).Unix(),
		"iat":      now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, user, nil
}

// Validates a JWT token and return the claims
func (s *AuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, ok := claims["user_id"].(string); !ok {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}

	return claims, nil
}

// Retrieves a user by ID
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func resetKey(token string) string {
	return "pwreset:" + token
}

// Issues a single-use reset token for the account with this email. An unknown
// email is not an error and yields an empty token, so callers can answer the
// same way whether or not the account exists.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", err
	}
	if user == nil {
		s.logger.Info("password reset requested for unknown email")
		return "", nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)

	if err := s.redis.Set(ctx, resetKey(token), user.ID.String(), s.resetTTL); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	// Delivery is out of band; only the fact is logged, never the token
	s.logger.Info("password reset token issued", "user_id", user.ID, "expires_in", s.resetTTL)
	return token, nil
}

// Consumes a reset token and sets the new password
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	if token == "" {
		return ErrInvalidToken
	}

	userID, err := s.redis.GetDel(ctx, resetKey(token))
	if errors.Is(err, redis.Nil) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("failed to read reset token: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, userID, string(hashedPassword)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	return nil
}
