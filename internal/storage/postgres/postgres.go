package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giftwell/fulfillment/internal/types/alert"
	"github.com/giftwell/fulfillment/internal/types/autogift"
	"github.com/giftwell/fulfillment/internal/types/operator"
	"github.com/giftwell/fulfillment/internal/types/order"
	"github.com/giftwell/fulfillment/internal/types/signal"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &PostgresStorage{db: db}

	if err := s.db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStorage) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
            id TEXT PRIMARY KEY,
            number TEXT UNIQUE NOT NULL,
            subtotal DOUBLE PRECISION NOT NULL DEFAULT 0,
            shipping_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
            tax DOUBLE PRECISION NOT NULL DEFAULT 0,
            total DOUBLE PRECISION NOT NULL DEFAULT 0,
            currency TEXT NOT NULL DEFAULT 'usd',
            payment_intent_id TEXT,
            payment_status TEXT NOT NULL DEFAULT 'pending',
            status TEXT NOT NULL DEFAULT 'pending',
            zinc_order_id TEXT,
            zinc_status TEXT,
            scheduled_delivery_date TIMESTAMPTZ,
            auto_gift BOOLEAN NOT NULL DEFAULT FALSE,
            auto_gift_execution_id TEXT,
            retry_count INT NOT NULL DEFAULT 0,
            next_retry_at TIMESTAMPTZ,
            retry_reason TEXT,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS order_items (
            id TEXT PRIMARY KEY,
            order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
            product_id TEXT NOT NULL,
            name TEXT NOT NULL,
            quantity INT NOT NULL DEFAULT 1,
            unit_price DOUBLE PRECISION NOT NULL,
            recipient_id TEXT,
            delivery_group TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS processing_signals (
            id TEXT PRIMARY KEY,
            order_id TEXT NOT NULL,
            source TEXT NOT NULL,
            metadata JSONB,
            created_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS auto_gift_executions (
            id TEXT PRIMARY KEY,
            rule_id TEXT NOT NULL,
            recipient_id TEXT NOT NULL,
            products JSONB NOT NULL,
            confidence DOUBLE PRECISION NOT NULL,
            discovery_method TEXT,
            order_id TEXT,
            token_id TEXT,
            status TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS approval_tokens (
            id TEXT PRIMARY KEY,
            token TEXT UNIQUE NOT NULL,
            execution_id TEXT NOT NULL REFERENCES auto_gift_executions(id),
            approved_at TIMESTAMPTZ,
            approved_via TEXT,
            created_at TIMESTAMPTZ NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS operators (
            id BIGSERIAL PRIMARY KEY,
            login TEXT UNIQUE NOT NULL,
            password_hash TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS alerts (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            message TEXT NOT NULL,
            order_count INT NOT NULL DEFAULT 0,
            fail_count INT NOT NULL DEFAULT 0,
            resolved BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL,
            resolved_at TIMESTAMPTZ
        )`,
		`CREATE INDEX IF NOT EXISTS idx_orders_retry ON orders (next_retry_at) WHERE status = 'retry_pending'`,
		`CREATE INDEX IF NOT EXISTS idx_orders_stuck ON orders (updated_at) WHERE zinc_status IN ('submitting','submitted')`,
		`CREATE INDEX IF NOT EXISTS idx_orders_scheduled ON orders (scheduled_delivery_date) WHERE status = 'scheduled'`,
		`CREATE INDEX IF NOT EXISTS idx_signals_order ON processing_signals (order_id, created_at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

const orderColumns = `id, number, subtotal, shipping_cost, tax, total, currency,
    payment_intent_id, payment_status, status, zinc_order_id, zinc_status,
    scheduled_delivery_date, auto_gift, auto_gift_execution_id,
    retry_count, next_retry_at, retry_reason, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*order.Order, error) {
	var o order.Order
	var intentID, zincID, zincStatus, retryReason, execID sql.NullString
	var schedDate, nextRetry sql.NullTime

	err := row.Scan(
		&o.ID, &o.Number, &o.Subtotal, &o.ShippingCost, &o.Tax, &o.Total, &o.Currency,
		&intentID, &o.PaymentStatus, &o.Status, &zincID, &zincStatus,
		&schedDate, &o.AutoGift, &execID,
		&o.RetryCount, &nextRetry, &retryReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaymentIntentID = intentID.String
	if zincID.Valid {
		o.ZincOrderID = &zincID.String
	}
	if zincStatus.Valid {
		o.ZincStatus = &zincStatus.String
	}
	if schedDate.Valid {
		t := schedDate.Time
		o.ScheduledDeliveryDate = &t
	}
	if execID.Valid {
		o.AutoGiftExecutionID = &execID.String
	}
	if nextRetry.Valid {
		t := nextRetry.Time
		o.NextRetryAt = &t
	}
	if retryReason.Valid {
		o.RetryReason = &retryReason.String
	}
	return &o, nil
}

func (s *PostgresStorage) CreateOrder(ctx context.Context, o *order.Order, items []order.OrderItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `
        INSERT INTO orders (id, number, subtotal, shipping_cost, tax, total, currency,
            payment_intent_id, payment_status, status, scheduled_delivery_date,
            auto_gift, auto_gift_execution_id, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	if _, err := tx.ExecContext(ctx, q,
		o.ID, o.Number, o.Subtotal, o.ShippingCost, o.Tax, o.Total, o.Currency,
		nullString(o.PaymentIntentID), o.PaymentStatus, o.Status, o.ScheduledDeliveryDate,
		o.AutoGift, o.AutoGiftExecutionID, o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	const qi = `
        INSERT INTO order_items (id, order_id, product_id, name, quantity, unit_price, recipient_id, delivery_group)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, qi,
			it.ID, o.ID, it.ProductID, it.Name, it.Quantity, it.UnitPrice, it.RecipientID, it.DeliveryGroup,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStorage) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStorage) ListOrderItems(ctx context.Context, orderID string) ([]order.OrderItem, error) {
	const q = `
        SELECT id, order_id, product_id, name, quantity, unit_price, recipient_id, delivery_group
        FROM order_items WHERE order_id = $1`
	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.OrderItem
	for rows.Next() {
		var it order.OrderItem
		var recipient, group sql.NullString
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice, &recipient, &group); err != nil {
			return nil, err
		}
		if recipient.Valid {
			it.RecipientID = &recipient.String
		}
		if group.Valid {
			it.DeliveryGroup = &group.String
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateOrderStatus refuses to move an order out of a terminal state.
func (s *PostgresStorage) UpdateOrderStatus(ctx context.Context, id string, status order.OrderStatus) error {
	const q = `
        UPDATE orders SET status = $2, updated_at = $3
        WHERE id = $1 AND status NOT IN ('completed','shipped','cancelled')`
	res, err := s.db.ExecContext(ctx, q, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.checkOrderUpdated(ctx, res, id)
}

func (s *PostgresStorage) UpdatePaymentStatus(ctx context.Context, id string, ps order.PaymentStatus, st order.OrderStatus) error {
	// payment_status always tracks the processor; the fulfillment status only
	// follows when the order is not already terminal.
	const q = `
        UPDATE orders
        SET payment_status = $2,
            status = CASE WHEN status IN ('completed','shipped','cancelled') THEN status ELSE $3 END,
            updated_at = $4
        WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id, ps, st, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.rowsOrNotFound(res)
}

// ClaimSubmission is the single-winner compare-and-set guarding the vendor
// call. Only a row with no handle and no live claim can be claimed.
func (s *PostgresStorage) ClaimSubmission(ctx context.Context, id string) (bool, error) {
	const q = `
        UPDATE orders
        SET zinc_status = 'submitting', updated_at = $2
        WHERE id = $1
          AND zinc_order_id IS NULL
          AND (zinc_status IS NULL OR zinc_status <> 'submitting')
          AND status NOT IN ('completed','shipped','cancelled')`
	res, err := s.db.ExecContext(ctx, q, id, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStorage) RecordSubmission(ctx context.Context, id, zincOrderID string) error {
	const q = `
        UPDATE orders
        SET zinc_order_id = $2, zinc_status = 'submitted', status = 'processing',
            retry_reason = NULL, next_retry_at = NULL, updated_at = $3
        WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id, zincOrderID, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.rowsOrNotFound(res)
}

func (s *PostgresStorage) UpdateVendorStatus(ctx context.Context, id, zincStatus string, st order.OrderStatus) error {
	const q = `
        UPDATE orders
        SET zinc_status = $2,
            status = CASE WHEN status IN ('completed','shipped','cancelled') THEN status ELSE $3 END,
            updated_at = $4
        WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id, zincStatus, st, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.rowsOrNotFound(res)
}

func (s *PostgresStorage) ScheduleRetry(ctx context.Context, id, reason string, nextRetryAt time.Time) error {
	// A live 'submitting' claim is released so the next attempt can reclaim;
	// a recorded vendor handle is never cleared.
	const q = `
        UPDATE orders
        SET status = 'retry_pending',
            retry_reason = $2,
            next_retry_at = $3,
            zinc_status = CASE WHEN zinc_order_id IS NULL THEN NULL ELSE zinc_status END,
            updated_at = $4
        WHERE id = $1 AND status NOT IN ('completed','shipped','cancelled')`
	res, err := s.db.ExecContext(ctx, q, id, reason, nextRetryAt, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.checkOrderUpdated(ctx, res, id)
}

func (s *PostgresStorage) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	const q = `UPDATE orders SET retry_count = retry_count + 1, updated_at = $2 WHERE id = $1 RETURNING retry_count`
	var count int
	if err := s.db.QueryRowContext(ctx, q, id, time.Now().UTC()).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStorage) ListDueRetries(ctx context.Context, now time.Time) ([]order.Order, error) {
	q := `SELECT ` + orderColumns + `
        FROM orders
        WHERE status = 'retry_pending' AND next_retry_at <= $1
        ORDER BY next_retry_at`
	return s.listOrders(ctx, q, now)
}

// ListStuckSubmitted returns orders the vendor accepted but never resolved,
// plus 'submitting' claims orphaned by a crash between claim and outcome.
func (s *PostgresStorage) ListStuckSubmitted(ctx context.Context, cutoff time.Time) ([]order.Order, error) {
	q := `SELECT ` + orderColumns + `
        FROM orders
        WHERE zinc_status IN ('submitting','submitted')
          AND status NOT IN ('completed','shipped','cancelled')
          AND updated_at < $1
        ORDER BY updated_at`
	return s.listOrders(ctx, q, cutoff)
}

func (s *PostgresStorage) ListDueScheduled(ctx context.Context, cutoff time.Time) ([]order.Order, error) {
	q := `SELECT ` + orderColumns + `
        FROM orders
        WHERE status = 'scheduled'
          AND scheduled_delivery_date IS NOT NULL
          AND scheduled_delivery_date <= $1
        ORDER BY scheduled_delivery_date`
	return s.listOrders(ctx, q, cutoff)
}

func (s *PostgresStorage) UpdateScheduledDate(ctx context.Context, id string, date time.Time) error {
	const q = `UPDATE orders SET scheduled_delivery_date = $2, updated_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id, date, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.rowsOrNotFound(res)
}

func (s *PostgresStorage) listOrders(ctx context.Context, q string, args ...any) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) rowsOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// checkOrderUpdated distinguishes "order missing" from "order terminal" when
// a guarded update touched no rows.
func (s *PostgresStorage) checkOrderUpdated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status); err != nil {
		return err
	}
	return fmt.Errorf("order %s is %s and cannot change status", id, status)
}

func (s *PostgresStorage) CreateSignal(ctx context.Context, sig *signal.ProcessingSignal) error {
	var metadata []byte
	if sig.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(sig.Metadata); err != nil {
			return fmt.Errorf("marshal signal metadata: %w", err)
		}
	}
	const q = `INSERT INTO processing_signals (id, order_id, source, metadata, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := s.db.ExecContext(ctx, q, sig.ID, sig.OrderID, sig.Source, metadata, sig.CreatedAt)
	return err
}

func (s *PostgresStorage) ListSignalsByOrder(ctx context.Context, orderID string) ([]signal.ProcessingSignal, error) {
	const q = `SELECT id, order_id, source, metadata, created_at FROM processing_signals WHERE order_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.ProcessingSignal
	for rows.Next() {
		var sig signal.ProcessingSignal
		var metadata []byte
		if err := rows.Scan(&sig.ID, &sig.OrderID, &sig.Source, &metadata, &sig.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &sig.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal signal metadata: %w", err)
			}
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) CreateExecution(ctx context.Context, e *autogift.AutoGiftExecution) error {
	products, err := json.Marshal(e.Products)
	if err != nil {
		return fmt.Errorf("marshal products: %w", err)
	}
	const q = `
        INSERT INTO auto_gift_executions (id, rule_id, recipient_id, products, confidence,
            discovery_method, order_id, token_id, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.db.ExecContext(ctx, q,
		e.ID, e.RuleID, e.RecipientID, products, e.Confidence,
		e.DiscoveryMethod, e.OrderID, e.TokenID, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (s *PostgresStorage) GetExecution(ctx context.Context, id string) (*autogift.AutoGiftExecution, error) {
	const q = `
        SELECT id, rule_id, recipient_id, products, confidence, discovery_method,
               order_id, token_id, status, created_at, updated_at
        FROM auto_gift_executions WHERE id = $1`
	var e autogift.AutoGiftExecution
	var products []byte
	var orderID, tokenID, method sql.NullString
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&e.ID, &e.RuleID, &e.RecipientID, &products, &e.Confidence, &method,
		&orderID, &tokenID, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(products, &e.Products); err != nil {
		return nil, fmt.Errorf("unmarshal products: %w", err)
	}
	e.DiscoveryMethod = method.String
	if orderID.Valid {
		e.OrderID = &orderID.String
	}
	if tokenID.Valid {
		e.TokenID = &tokenID.String
	}
	return &e, nil
}

func (s *PostgresStorage) TransitionExecution(ctx context.Context, id string, from, to autogift.ExecutionStatus) (bool, error) {
	const q = `UPDATE auto_gift_executions SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := s.db.ExecContext(ctx, q, id, from, to, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStorage) AttachOrder(ctx context.Context, executionID, orderID string) error {
	const q = `
        UPDATE auto_gift_executions
        SET order_id = $2, status = 'order_created', updated_at = $3
        WHERE id = $1 AND status = 'approved'`
	res, err := s.db.ExecContext(ctx, q, executionID, orderID, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.rowsOrNotFound(res)
}

func (s *PostgresStorage) CreateToken(ctx context.Context, t *autogift.ApprovalToken) error {
	const q = `
        INSERT INTO approval_tokens (id, token, execution_id, created_at, expires_at)
        VALUES ($1,$2,$3,$4,$5)`
	_, err := s.db.ExecContext(ctx, q, t.ID, t.Token, t.ExecutionID, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return err
	}
	const qe = `UPDATE auto_gift_executions SET token_id = $2, updated_at = $3 WHERE id = $1`
	_, err = s.db.ExecContext(ctx, qe, t.ExecutionID, t.ID, time.Now().UTC())
	return err
}

func (s *PostgresStorage) GetTokenByValue(ctx context.Context, token string) (*autogift.ApprovalToken, error) {
	const q = `
        SELECT id, token, execution_id, approved_at, approved_via, created_at, expires_at
        FROM approval_tokens WHERE token = $1`
	var t autogift.ApprovalToken
	var approvedAt sql.NullTime
	var approvedVia sql.NullString
	err := s.db.QueryRowContext(ctx, q, token).Scan(
		&t.ID, &t.Token, &t.ExecutionID, &approvedAt, &approvedVia, &t.CreatedAt, &t.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		tm := approvedAt.Time
		t.ApprovedAt = &tm
	}
	if approvedVia.Valid {
		t.ApprovedVia = &approvedVia.String
	}
	return &t, nil
}

// ConsumeToken records approval exactly once: the compare-and-set fails for
// a token already approved or past its expiry.
func (s *PostgresStorage) ConsumeToken(ctx context.Context, token, via string, now time.Time) (bool, error) {
	const q = `
        UPDATE approval_tokens
        SET approved_at = $2, approved_via = $3
        WHERE token = $1 AND approved_at IS NULL AND expires_at > $2`
	res, err := s.db.ExecContext(ctx, q, token, now, via)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStorage) ListExpiredAwaiting(ctx context.Context, now time.Time) ([]autogift.AutoGiftExecution, error) {
	const q = `
        SELECT e.id FROM auto_gift_executions e
        JOIN approval_tokens t ON t.execution_id = e.id
        WHERE e.status = 'awaiting_approval' AND t.expires_at <= $1`
	rows, err := s.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []autogift.AutoGiftExecution
	for _, id := range ids {
		e, err := s.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// ListApprovedWithoutOrder returns executions whose approval was recorded but
// whose order creation never completed.
func (s *PostgresStorage) ListApprovedWithoutOrder(ctx context.Context) ([]autogift.AutoGiftExecution, error) {
	const q = `
        SELECT id FROM auto_gift_executions
        WHERE status = 'approved' AND order_id IS NULL`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []autogift.AutoGiftExecution
	for _, id := range ids {
		e, err := s.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *PostgresStorage) CreateAlert(ctx context.Context, a *alert.Alert) error {
	const q = `
        INSERT INTO alerts (id, kind, message, order_count, fail_count, resolved, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.db.ExecContext(ctx, q, a.ID, a.Kind, a.Message, a.OrderCount, a.FailCount, a.Resolved, a.CreatedAt)
	return err
}

func (s *PostgresStorage) ListAlerts(ctx context.Context, unresolvedOnly bool) ([]alert.Alert, error) {
	q := `SELECT id, kind, message, order_count, fail_count, resolved, created_at, resolved_at FROM alerts`
	if unresolvedOnly {
		q += ` WHERE NOT resolved`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		var a alert.Alert
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.Kind, &a.Message, &a.OrderCount, &a.FailCount, &a.Resolved, &a.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) ResolveAlert(ctx context.Context, id string) error {
	const q = `UPDATE alerts SET resolved = TRUE, resolved_at = $2 WHERE id = $1 AND NOT resolved`
	res, err := s.db.ExecContext(ctx, q, id, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.rowsOrNotFound(res)
}

func (s *PostgresStorage) CreateOperator(ctx context.Context, o *operator.Operator) (bool, error) {
	const q = `
        INSERT INTO operators (login, password_hash, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (login) DO NOTHING
        RETURNING id`
	err := s.db.QueryRowContext(ctx, q, o.Login, o.PasswordHash, o.CreatedAt).Scan(&o.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStorage) GetOperatorByLogin(ctx context.Context, login string) (*operator.Operator, error) {
	const q = `SELECT id, login, password_hash, created_at FROM operators WHERE login = $1`
	var o operator.Operator
	if err := s.db.QueryRowContext(ctx, q, login).Scan(&o.ID, &o.Login, &o.PasswordHash, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
