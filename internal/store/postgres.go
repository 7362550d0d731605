package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"riderdispatch/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres implements Store and Outbox over database/sql with the pgx
// driver. Timestamps of the working set are stored as RFC 3339 text with
// nanoseconds so the original offset survives the round trip.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
func (p *Postgres) Close() error                   { return p.db.Close() }

// Migrate applies the embedded schema files in name order. Every statement
// is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, n := range names {
		body, err := migrations.ReadFile(n)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("migrate %s: %w", n, err)
		}
	}
	return nil
}

// SaveSnapshot replaces the stored working set in one transaction.
func (p *Postgres) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders`); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	for _, o := range snap.Orders {
		_, err := tx.ExecContext(ctx, `INSERT INTO orders (id, external_order_id, order_time, zone, location_key, lat, lng, distance_km,
            sla_deadline, priority, status, assigned_rider_id, batch_id, selected_at, delivery_started_at, expected_return_time, delivered_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			o.ID, o.ExternalOrderID, fmtTime(o.OrderTime), o.Zone, o.LocationKey, nullFloat(o.Lat), nullFloat(o.Lng), nullFloat(o.DistanceKm),
			fmtTime(o.SLADeadline), o.Priority, string(o.Status), nullString(o.AssignedRiderID), nullString(o.BatchID),
			nullTime(o.SelectedAt), nullTime(o.DeliveryStartedAt), nullTime(o.ExpectedReturnTime), nullTime(o.DeliveredAt))
		if err != nil {
			return fmt.Errorf("save snapshot: order %d: %w", o.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM riders`); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	for i, r := range snap.Riders {
		var assignment any
		if r.Assignment != nil {
			b, err := json.Marshal(r.Assignment)
			if err != nil {
				return err
			}
			assignment = b
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO riders (position, id, name, status, assignment, expected_free_time) VALUES ($1,$2,$3,$4,$5,$6)`,
			i, r.ID, r.Name, string(r.Status), assignment, nullTime(r.ExpectedFreeTime))
		if err != nil {
			return fmt.Errorf("save snapshot: rider %s: %w", r.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO dispatch_state (id, next_id, saved_at) VALUES (1,$1,$2)
        ON CONFLICT (id) DO UPDATE SET next_id=EXCLUDED.next_id, saved_at=EXCLUDED.saved_at`, snap.NextID, fmtTime(snap.SavedAt))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) LoadSnapshot(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot
	var savedAt string
	err := p.db.QueryRowContext(ctx, `SELECT next_id, saved_at FROM dispatch_state WHERE id=1`).Scan(&snap.NextID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("load snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return snap, err
	}
	if snap.SavedAt, err = parseTime(savedAt); err != nil {
		return snap, err
	}

	rows, err := p.db.QueryContext(ctx, `SELECT id, external_order_id, order_time, zone, location_key, lat, lng, distance_km,
        sla_deadline, priority, status, assigned_rider_id, batch_id, selected_at, delivery_started_at, expected_return_time, delivered_at
        FROM orders ORDER BY id`)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return snap, fmt.Errorf("load snapshot: %w", err)
		}
		snap.Orders = append(snap.Orders, o)
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rrows, err := p.db.QueryContext(ctx, `SELECT id, name, status, assignment, expected_free_time FROM riders ORDER BY position`)
	if err != nil {
		return snap, err
	}
	defer rrows.Close()
	for rrows.Next() {
		var r model.Rider
		var status string
		var assignment []byte
		var free sql.NullString
		if err := rrows.Scan(&r.ID, &r.Name, &status, &assignment, &free); err != nil {
			return snap, err
		}
		r.Status = model.RiderStatus(status)
		if len(assignment) > 0 {
			var a model.Assignment
			if err := json.Unmarshal(assignment, &a); err != nil {
				return snap, fmt.Errorf("load snapshot: rider %s: %w", r.ID, err)
			}
			r.Assignment = &a
		}
		if r.ExpectedFreeTime, err = scanNullTime(free); err != nil {
			return snap, err
		}
		snap.Riders = append(snap.Riders, r)
	}
	return snap, rrows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var o model.Order
	var orderTime, deadline, status string
	var lat, lng, dist sql.NullFloat64
	var rider, batchID, selected, started, expected, delivered sql.NullString
	err := row.Scan(&o.ID, &o.ExternalOrderID, &orderTime, &o.Zone, &o.LocationKey, &lat, &lng, &dist,
		&deadline, &o.Priority, &status, &rider, &batchID, &selected, &started, &expected, &delivered)
	if err != nil {
		return o, err
	}
	o.Status = model.OrderStatus(status)
	if o.OrderTime, err = parseTime(orderTime); err != nil {
		return o, err
	}
	if o.SLADeadline, err = parseTime(deadline); err != nil {
		return o, err
	}
	o.Lat, o.Lng, o.DistanceKm = floatPtr(lat), floatPtr(lng), floatPtr(dist)
	o.AssignedRiderID, o.BatchID = stringPtr(rider), stringPtr(batchID)
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{{selected, &o.SelectedAt}, {started, &o.DeliveryStartedAt}, {expected, &o.ExpectedReturnTime}, {delivered, &o.DeliveredAt}} {
		if *f.dst, err = scanNullTime(f.src); err != nil {
			return o, err
		}
	}
	return o, nil
}

func (p *Postgres) AppendHistory(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, o := range orders {
		body, err := json.Marshal(o)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO order_history (order_id, body) VALUES ($1,$2)`, o.ID, body); err != nil {
			return fmt.Errorf("append history: order %d: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListHistory(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT body FROM order_history ORDER BY seq DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var o model.Order
		if err := json.Unmarshal(body, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	ev, err := json.Marshal(sub.Events)
	if err != nil {
		return model.Subscription{}, err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO webhook_subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)
        ON CONFLICT (id) DO UPDATE SET url=EXCLUDED.url, events=EXCLUDED.events, secret=EXCLUDED.secret`,
		sub.ID, sub.URL, ev, nullIfEmpty(sub.Secret))
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (p *Postgres) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	return p.querySubscriptions(ctx, `SELECT id, url, COALESCE(secret,''), events FROM webhook_subscriptions ORDER BY created_at, id`)
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	probe, _ := json.Marshal([]string{eventType})
	return p.querySubscriptions(ctx, `SELECT id, url, COALESCE(secret,''), events FROM webhook_subscriptions
        WHERE events @> $1::jsonb OR events @> '["*"]'::jsonb ORDER BY created_at, id`, string(probe))
}

func (p *Postgres) querySubscriptions(ctx context.Context, q string, args ...any) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(ev, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %q: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (event_type, url, dedup_key) DO NOTHING`,
		id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload))
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryColumns = `id, COALESCE(subscription_id,''), event_type, url, COALESCE(secret,''), payload, status, attempts,
    next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), delivered_at`

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	return p.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
        WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	if status == "" {
		return p.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries ORDER BY created_at, id LIMIT $1`, clampLimit(limit))
	}
	return p.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE status=$2 ORDER BY created_at, id LIMIT $1`, clampLimit(limit), status)
}

func (p *Postgres) queryDeliveries(ctx context.Context, q string, args ...any) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		var delivered sql.NullTime
		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts,
			&d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered); err != nil {
			return nil, err
		}
		if delivered.Valid {
			t := delivered.Time
			d.DeliveredAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(),
            response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3,
        updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`, id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(),
        response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery %q: %w", id, ErrNotFound)
	}
	return nil
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func scanNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
