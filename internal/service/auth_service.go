package service

import (
	"fmt"
	"time"

	"github.com/edupulse/proctor-backend/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// TokenType distinguishes the two principals the API serves.
type TokenType string

const (
	TokenTypeSubject TokenType = "subject"
	TokenTypeProctor TokenType = "proctor"
)

// Claims is the JWT payload for both subject and proctor tokens.
type Claims struct {
	TokenType TokenType `json:"token_type"`
	UserID    int       `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthService issues and validates tokens and handles password hashing.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// HashPassword hashes a plaintext password with bcrypt.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored hash.
func (s *AuthService) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateProctorToken issues a signed JWT for a proctor account.
func (s *AuthService) GenerateProctorToken(proctorID int) (string, error) {
	return s.generate(TokenTypeProctor, proctorID)
}

// GenerateSubjectToken issues a signed JWT for a subject. Subject identity
// normally comes from the platform's identity service; this path exists for
// local development and tests.
func (s *AuthService) GenerateSubjectToken(subjectID int) (string, error) {
	return s.generate(TokenTypeSubject, subjectID)
}

func (s *AuthService) generate(tokenType TokenType, userID int) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenType: tokenType,
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a JWT, returning its claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
