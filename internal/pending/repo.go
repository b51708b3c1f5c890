package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a pending record does not exist, either because
// it was already consumed or because it expired.
var ErrNotFound = errors.New("pending payment not found")

// Record is a payment confirmation awaiting an approve/refund decision.
type Record struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	PaymentIntentID string    `json:"paymentIntentId"`
	PaymentMethod   string    `json:"paymentMethod"`
	Referral        string    `json:"referral"`
	CardInfo        string    `json:"cardInfo"`
	RiskFlagged     bool      `json:"riskFlagged"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewID generates a unique pending record identifier. The timestamp keeps ids
// sortable in the store; the random suffix makes them unguessable.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("pending_%d_%s", time.Now().UnixMilli(), suffix)
}

// Repo persists pending records and webhook dedupe markers in Redis.
type Repo struct {
	R         *redis.Client
	TTL       time.Duration
	DedupeTTL time.Duration
}

func (r Repo) ttl() time.Duration {
	if r.TTL <= 0 {
		return 24 * time.Hour
	}
	return r.TTL
}

func (r Repo) dedupeTTL() time.Duration {
	if r.DedupeTTL <= 0 {
		return 24 * time.Hour
	}
	return r.DedupeTTL
}

// CreatePending stores the record under its id with a bounded expiry.
// SetNX guards against id reuse.
func (r Repo) CreatePending(ctx context.Context, rec Record) error {
	if r.R == nil {
		return errors.New("pending store not configured")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("record id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pending record: %w", err)
	}
	ok, err := r.R.SetNX(ctx, rec.ID, payload, r.ttl()).Result()
	if err != nil {
		return fmt.Errorf("store pending record: %w", err)
	}
	if !ok {
		return fmt.Errorf("pending record %s already exists", rec.ID)
	}
	return nil
}

// ConsumePending atomically fetches and deletes the record. GETDEL is the
// serialization point: of two racing resolver calls only one receives the
// record, the other gets ErrNotFound.
func (r Repo) ConsumePending(ctx context.Context, id string) (Record, error) {
	var zero Record
	if r.R == nil {
		return zero, errors.New("pending store not configured")
	}
	payload, err := r.R.GetDel(ctx, id).Result()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("consume pending record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return zero, fmt.Errorf("decode pending record: %w", err)
	}
	return rec, nil
}

// Restore re-publishes a consumed record after a failed refund so the action
// can be retried. The remaining lifetime is derived from the original
// creation time rather than restarting the full TTL.
func (r Repo) Restore(ctx context.Context, rec Record) error {
	if r.R == nil {
		return errors.New("pending store not configured")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pending record: %w", err)
	}
	remaining := r.ttl() - time.Since(rec.Timestamp)
	if remaining < time.Minute {
		remaining = time.Minute
	}
	if err := r.R.Set(ctx, rec.ID, payload, remaining).Err(); err != nil {
		return fmt.Errorf("restore pending record: %w", err)
	}
	return nil
}

// MarkNotified records that a completed payment has triggered a notification.
// It returns true only for the first call per payment id while the marker
// lives, which makes webhook handling idempotent under redelivery.
func (r Repo) MarkNotified(ctx context.Context, paymentID string) (bool, error) {
	if r.R == nil {
		return false, errors.New("dedupe store not configured")
	}
	return r.R.SetNX(ctx, notifiedKey(paymentID), "1", r.dedupeTTL()).Result()
}

// IsNotified reports whether a completion notification was already sent for the payment.
func (r Repo) IsNotified(ctx context.Context, paymentID string) (bool, error) {
	if r.R == nil {
		return false, errors.New("dedupe store not configured")
	}
	n, err := r.R.Exists(ctx, notifiedKey(paymentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func notifiedKey(paymentID string) string {
	return "notified:" + paymentID
}
