package operator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/giftwell/fulfillment/internal/types/operator"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	byLogin map[string]*operator.Operator
}

func newMemRepo() *memRepo {
	return &memRepo{byLogin: map[string]*operator.Operator{}}
}

func (m *memRepo) CreateOperator(ctx context.Context, o *operator.Operator) (bool, error) {
	if _, ok := m.byLogin[o.Login]; ok {
		return false, nil
	}
	cp := *o
	cp.ID = int64(len(m.byLogin) + 1)
	m.byLogin[o.Login] = &cp
	return true, nil
}

func (m *memRepo) GetOperatorByLogin(ctx context.Context, login string) (*operator.Operator, error) {
	o, ok := m.byLogin[login]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *o
	return &cp, nil
}

func TestRegisterPasswordTooShort(t *testing.T) {
	svc := NewService(newMemRepo(), []byte("secret"), time.Hour)
	_, err := svc.Register(context.Background(), "alice", "short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestRegisterDuplicateLogin(t *testing.T) {
	svc := NewService(newMemRepo(), []byte("secret"), time.Hour)
	_, err := svc.Register(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "alice", "battery-staple")
	assert.ErrorIs(t, err, ErrOperatorExists)
}

func TestAuthenticateIssuesOperatorToken(t *testing.T) {
	secret := []byte("secret")
	svc := NewService(newMemRepo(), secret, time.Hour)

	_, err := svc.Register(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)

	signed, err := svc.Authenticate(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "operator", claims.Role)
	assert.Equal(t, "alice", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := NewService(newMemRepo(), []byte("secret"), time.Hour)

	_, err := svc.Register(context.Background(), "alice", "correct-horse")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCreds)
}

func TestAuthenticateUnknownLogin(t *testing.T) {
	svc := NewService(newMemRepo(), []byte("secret"), time.Hour)
	_, err := svc.Authenticate(context.Background(), "nobody", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCreds)
}
