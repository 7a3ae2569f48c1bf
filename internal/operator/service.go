package operator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giftwell/fulfillment/internal/types/operator"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrOperatorExists   = errors.New("operator already exists")
	ErrInvalidCreds     = errors.New("invalid credentials")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Service issues the bearer tokens the admin surface requires. Tokens carry
// role=operator; nothing else in the system mints them.
type Service struct {
	repo      Repository
	jwtSecret []byte
	jwtTTL    time.Duration
}

func NewService(repo Repository, jwtSecret []byte, jwtTTL time.Duration) *Service {
	return &Service{repo: repo, jwtSecret: jwtSecret, jwtTTL: jwtTTL}
}

func (s *Service) Register(ctx context.Context, login, password string) (*operator.Operator, error) {
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	o := &operator.Operator{
		Login:        login,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	created, err := s.repo.CreateOperator(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("create operator %s: %w", login, err)
	}
	if !created {
		return nil, ErrOperatorExists
	}
	return o, nil
}

func (s *Service) Authenticate(ctx context.Context, login, password string) (string, error) {
	o, err := s.repo.GetOperatorByLogin(ctx, login)
	if err != nil {
		return "", ErrInvalidCreds
	}
	if err := bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCreds
	}
	now := time.Now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   login,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: "operator",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}
	return signed, nil
}
