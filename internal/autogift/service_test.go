package autogift

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/giftwell/fulfillment/internal/types/autogift"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository with the same conditional-update
// semantics as the Postgres implementation.
type memRepo struct {
	mu         sync.Mutex
	executions map[string]*autogift.AutoGiftExecution
	tokens     map[string]*autogift.ApprovalToken
}

func newMemRepo() *memRepo {
	return &memRepo{
		executions: map[string]*autogift.AutoGiftExecution{},
		tokens:     map[string]*autogift.ApprovalToken{},
	}
}

func (m *memRepo) CreateExecution(ctx context.Context, e *autogift.AutoGiftExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.executions[e.ID] = &cp
	return nil
}

func (m *memRepo) GetExecution(ctx context.Context, id string) (*autogift.AutoGiftExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *memRepo) TransitionExecution(ctx context.Context, id string, from, to autogift.ExecutionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memRepo) AttachOrder(ctx context.Context, executionID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[executionID]
	if !ok {
		return sql.ErrNoRows
	}
	e.OrderID = &orderID
	e.Status = autogift.StatusOrderCreated
	return nil
}

func (m *memRepo) CreateToken(ctx context.Context, t *autogift.ApprovalToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tokens[t.Token] = &cp
	return nil
}

func (m *memRepo) GetTokenByValue(ctx context.Context, token string) (*autogift.ApprovalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) ConsumeToken(ctx context.Context, token, via string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || t.ApprovedAt != nil || !t.ExpiresAt.After(now) {
		return false, nil
	}
	t.ApprovedAt = &now
	t.ApprovedVia = &via
	return true, nil
}

func (m *memRepo) ListExpiredAwaiting(ctx context.Context, now time.Time) ([]autogift.AutoGiftExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []autogift.AutoGiftExecution
	for _, e := range m.executions {
		if e.Status != autogift.StatusAwaitingApproval {
			continue
		}
		for _, t := range m.tokens {
			if t.ExecutionID == e.ID && !t.ExpiresAt.After(now) {
				out = append(out, *e)
			}
		}
	}
	return out, nil
}

func (m *memRepo) ListApprovedWithoutOrder(ctx context.Context) ([]autogift.AutoGiftExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []autogift.AutoGiftExecution
	for _, e := range m.executions {
		if e.Status == autogift.StatusApproved && e.OrderID == nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memRepo) tokenFor(executionID string) *autogift.ApprovalToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ExecutionID == executionID {
			cp := *t
			return &cp
		}
	}
	return nil
}

type mockOrders struct {
	mu     sync.Mutex
	orders []*order.Order
	items  [][]order.OrderItem
	err    error
}

func (m *mockOrders) CreateOrder(ctx context.Context, o *order.Order, items []order.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.orders = append(m.orders, o)
	m.items = append(m.items, items)
	return nil
}

func (m *mockOrders) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func selection(confidence float64) Selection {
	return Selection{
		RuleID:          "rule-1",
		RecipientID:     "recipient-1",
		Confidence:      confidence,
		DiscoveryMethod: "occasion_match",
		Currency:        "usd",
		ShippingCost:    4.99,
		Products: []autogift.SelectedProduct{
			{ProductID: "prod-1", Name: "Candle Set", Quantity: 2, UnitPrice: 19.99},
			{ProductID: "prod-2", Name: "Card", UnitPrice: 4.99},
		},
	}
}

func TestRecordSelectionNoProducts(t *testing.T) {
	svc := NewService(newMemRepo(), &mockOrders{}, 0.9, 48*time.Hour)
	_, err := svc.RecordSelection(context.Background(), Selection{RuleID: "rule-1"})
	assert.ErrorIs(t, err, ErrNoProducts)
}

func TestRecordSelectionLowConfidenceAwaitsApproval(t *testing.T) {
	repo := newMemRepo()
	orders := &mockOrders{}
	svc := NewService(repo, orders, 0.9, 48*time.Hour)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)
	assert.Equal(t, autogift.StatusAwaitingApproval, exec.Status)
	assert.Nil(t, exec.OrderID)
	assert.Empty(t, orders.orders, "no money moves before approval")

	token := repo.tokenFor(exec.ID)
	require.NotNil(t, token)
	assert.Nil(t, token.ApprovedAt)
}

func TestRecordSelectionHighConfidenceAutoApproves(t *testing.T) {
	repo := newMemRepo()
	orders := &mockOrders{}
	svc := NewService(repo, orders, 0.9, 48*time.Hour)

	exec, err := svc.RecordSelection(context.Background(), selection(0.95))
	require.NoError(t, err)
	assert.Equal(t, autogift.StatusOrderCreated, exec.Status)
	require.NotNil(t, exec.OrderID)

	require.Len(t, orders.orders, 1)
	o := orders.orders[0]
	assert.True(t, o.AutoGift)
	assert.Equal(t, exec.ID, *o.AutoGiftExecutionID)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	// 2*19.99 + 4.99 items, plus shipping.
	assert.InDelta(t, 44.97, o.Subtotal, 0.001)
	assert.InDelta(t, 49.96, o.Total, 0.001)
	require.Len(t, orders.items[0], 2)
	assert.Equal(t, 1, orders.items[0][1].Quantity, "missing quantity defaults to 1")

	token := repo.tokenFor(exec.ID)
	require.NotNil(t, token)
	require.NotNil(t, token.ApprovedVia)
	assert.Equal(t, autogift.ApprovedViaAuto, *token.ApprovedVia)
}

func TestApproveManually(t *testing.T) {
	repo := newMemRepo()
	orders := &mockOrders{}
	svc := NewService(repo, orders, 0.9, 48*time.Hour)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)
	token := repo.tokenFor(exec.ID)
	require.NotNil(t, token)

	approved, err := svc.Approve(context.Background(), token.Token)
	require.NoError(t, err)
	assert.Equal(t, autogift.StatusOrderCreated, approved.Status)
	require.NotNil(t, approved.OrderID)
	require.Len(t, orders.orders, 1)

	consumed := repo.tokenFor(exec.ID)
	require.NotNil(t, consumed.ApprovedVia)
	assert.Equal(t, autogift.ApprovedViaManual, *consumed.ApprovedVia)
}

func TestApproveSurvivesOrderCreationFailure(t *testing.T) {
	repo := newMemRepo()
	orders := &mockOrders{}
	svc := NewService(repo, orders, 0.9, 48*time.Hour)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)
	token := repo.tokenFor(exec.ID)
	require.NotNil(t, token)

	// The order store goes down right after the token is consumed. The
	// approval must stand; the execution waits for the recovery sweep.
	orders.setErr(errors.New("orders db unavailable"))
	approved, err := svc.Approve(context.Background(), token.Token)
	require.NoError(t, err)
	assert.Equal(t, autogift.StatusApproved, approved.Status)
	assert.Nil(t, approved.OrderID)

	orders.setErr(nil)
	recovered, err := svc.RetryStalledApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	got, err := repo.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, autogift.StatusOrderCreated, got.Status)
	require.NotNil(t, got.OrderID)
	require.Len(t, orders.orders, 1)
	assert.Equal(t, exec.ID, *orders.orders[0].AutoGiftExecutionID)

	// Nothing left to recover.
	recovered, err = svc.RetryStalledApprovals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestRetryStalledApprovalsKeepsFailingExecution(t *testing.T) {
	repo := newMemRepo()
	orders := &mockOrders{}
	svc := NewService(repo, orders, 0.9, 48*time.Hour)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)
	token := repo.tokenFor(exec.ID)

	orders.setErr(errors.New("orders db unavailable"))
	_, err = svc.Approve(context.Background(), token.Token)
	require.NoError(t, err)

	// Sweep while the store is still down: no recovery, no state loss.
	recovered, err := svc.RetryStalledApprovals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, recovered)

	got, err := repo.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, autogift.StatusApproved, got.Status)
	assert.Nil(t, got.OrderID)
}

func TestGetExecution(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &mockOrders{}, 0.9, 48*time.Hour)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)

	got, err := svc.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, got.ID)

	_, err = svc.GetExecution(context.Background(), "no-such-execution")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestApproveTokenNotFound(t *testing.T) {
	svc := NewService(newMemRepo(), &mockOrders{}, 0.9, 48*time.Hour)
	_, err := svc.Approve(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestApproveTwiceFails(t *testing.T) {
	repo := newMemRepo()
	orders := &mockOrders{}
	svc := NewService(repo, orders, 0.9, 48*time.Hour)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)
	token := repo.tokenFor(exec.ID)

	_, err = svc.Approve(context.Background(), token.Token)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), token.Token)
	assert.Error(t, err)
	assert.Len(t, orders.orders, 1, "a token approves exactly one order")
}

func TestApproveExpiredToken(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &mockOrders{}, 0.9, -time.Minute)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)
	token := repo.tokenFor(exec.ID)

	_, err = svc.Approve(context.Background(), token.Token)
	assert.ErrorIs(t, err, ErrTokenConsumed)
}

func TestReject(t *testing.T) {
	repo := newMemRepo()
	orders := &mockOrders{}
	svc := NewService(repo, orders, 0.9, 48*time.Hour)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)
	token := repo.tokenFor(exec.ID)

	rejected, err := svc.Reject(context.Background(), token.Token)
	require.NoError(t, err)
	assert.Equal(t, autogift.StatusRejected, rejected.Status)
	assert.Empty(t, orders.orders)

	// A decided execution cannot be approved afterwards.
	_, err = svc.Approve(context.Background(), token.Token)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestExpireStale(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &mockOrders{}, 0.9, -time.Minute)

	exec, err := svc.RecordSelection(context.Background(), selection(0.5))
	require.NoError(t, err)

	expired, err := svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := repo.GetExecution(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, autogift.StatusExpired, got.Status)

	// Second sweep finds nothing left to expire.
	expired, err = svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestOrderNumberFormat(t *testing.T) {
	n := orderNumber("a3f9c2d1-0000-4000-8000-000000000000")
	assert.Equal(t, "GW-A3F9C2D100", n)
	assert.Len(t, n, 13)
}
