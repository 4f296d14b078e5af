// Package queue provides the offline order queue: a durable outbox of orders
// that could not be delivered to the remote order service, with bounded
// retry and a quarantine collection for orders that never get through.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/mare-catalogo/backend/internal/errors"
	"github.com/mare-catalogo/backend/internal/ids"
	"github.com/mare-catalogo/backend/internal/logging"
	"github.com/mare-catalogo/backend/internal/metrics"
	"github.com/mare-catalogo/backend/internal/models"
	"github.com/mare-catalogo/backend/internal/remote"
	"github.com/mare-catalogo/backend/internal/store"
)

// Durable store keys for the two collections.
const (
	PendingKey = "pending_orders"
	FailedKey  = "failed_orders"
)

// DefaultMaxAttempts is the delivery attempt ceiling before quarantine.
const DefaultMaxAttempts = 10

// corruptSuffix marks a set-aside copy of a blob that could not be decoded.
const corruptSuffix = ".corrupt"

// corruptKey names the set-aside copy of key. Each corruption gets its own
// copy under store.AsidePrefix, outside the quota.
func corruptKey(key string, at time.Time) string {
	return store.AsidePrefix + key + corruptSuffix + "." + strconv.FormatInt(at.UnixMilli(), 10)
}

// Alerter surfaces a user-facing alert when an order could not be saved.
type Alerter interface {
	Alert(ctx context.Context, message string)
}

// Config holds queue configuration.
type Config struct {
	MaxAttempts int
	Alerter     Alerter
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: DefaultMaxAttempts,
		Now:         time.Now,
	}
}

// Outcome is the result of one delivery attempt during a drain.
type Outcome struct {
	QueueID     string `json:"queue_id"`
	OrderNumber string `json:"numero"`
	Success     bool   `json:"success"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
	Quarantined bool   `json:"quarantined,omitempty"`
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Quarantined int       `json:"quarantined"`
	Details     []Outcome `json:"details"`
	StartedAt   time.Time `json:"started_at"`
	Duration    string    `json:"duration"`
}

// Status is a read-only snapshot of both collections.
type Status struct {
	PendingCount int                   `json:"pending_count"`
	FailedCount  int                   `json:"failed_count"`
	Pending      []models.PendingOrder `json:"pending"`
	Failed       []models.FailedOrder  `json:"failed"`
}

// OrderQueue owns the pending and failed collections in the durable store.
// Read-modify-write cycles are serialized by mu; remote calls happen
// outside it so enqueues are never blocked by a slow drain.
type OrderQueue struct {
	kv          store.KV
	remote      remote.OrderService
	alerter     Alerter
	metrics     *metrics.Metrics
	maxAttempts int
	now         func() time.Time

	mu     sync.Mutex
	flight singleflight.Group
	log    *logging.Logger
}

// New creates a queue over kv delivering through svc.
func New(kv store.KV, svc remote.OrderService, config *Config) *OrderQueue {
	if config == nil {
		config = DefaultConfig()
	}
	q := &OrderQueue{
		kv:          kv,
		remote:      svc,
		alerter:     config.Alerter,
		metrics:     config.Metrics,
		maxAttempts: config.MaxAttempts,
		now:         config.Now,
		log:         logging.Named("queue"),
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = DefaultMaxAttempts
	}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

// MaxAttempts returns the configured attempt ceiling.
func (q *OrderQueue) MaxAttempts() int {
	return q.maxAttempts
}

// Enqueue adds an order to the pending collection and returns its queue ID.
// Enqueue is idempotent on order number: a second call for a pending order
// returns the existing ID. A store failure raises a user alert.
func (q *OrderQueue) Enqueue(ctx context.Context, order models.Order) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.loadPending(ctx)
	if err != nil {
		q.raiseAlert(ctx, order.Number, err)
		return "", err
	}

	for _, rec := range pending {
		if rec.Order.Number == order.Number {
			q.log.Info("Order already queued", logging.Fields{
				"numero":   order.Number,
				"queue_id": rec.ID,
			})
			return rec.ID, nil
		}
	}

	now := q.now()
	rec := models.PendingOrder{
		ID:        ids.NewQueueID(now),
		Order:     order,
		CreatedAt: now,
	}
	pending = append(pending, rec)

	if err := q.save(ctx, PendingKey, pending); err != nil {
		q.raiseAlert(ctx, order.Number, err)
		return "", err
	}

	q.metrics.OrderEnqueued()
	q.metrics.QueueDepth(len(pending), q.countFailed(ctx))
	q.log.Info("Order queued for delivery", logging.Fields{
		"numero":   order.Number,
		"queue_id": rec.ID,
		"pending":  len(pending),
	})
	return rec.ID, nil
}

// Drain attempts delivery of every pending order, oldest first. Concurrent
// calls share one pass. The pass runs to completion even if ctx is
// cancelled, since an in-flight insert can't be recalled.
func (q *OrderQueue) Drain(ctx context.Context) (*DrainResult, error) {
	v, err, shared := q.flight.Do("drain", func() (interface{}, error) {
		return q.drain(context.WithoutCancel(ctx))
	})
	if shared {
		q.log.Debug("Joined in-flight drain")
	}
	res, _ := v.(*DrainResult)
	return res, err
}

// pass-local bookkeeping of what happened to each record.
type drainState struct {
	delivered   map[string]bool
	updated     map[string]models.PendingOrder
	quarantined []models.FailedOrder
}

func (q *OrderQueue) drain(ctx context.Context) (*DrainResult, error) {
	started := q.now()

	q.mu.Lock()
	pending, err := q.loadPending(ctx)
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}

	result := &DrainResult{StartedAt: started, Details: []Outcome{}}
	if len(pending) == 0 {
		result.Duration = "0s"
		return result, nil
	}

	q.log.Info("Draining pending orders", logging.Fields{"count": len(pending)})

	state := drainState{
		delivered: make(map[string]bool),
		updated:   make(map[string]models.PendingOrder),
	}

	var abortErr error
	for _, rec := range pending {
		order := rec.Order
		order.Origin = models.OriginCatalogWeb

		_, err := q.remote.Insert(ctx, order)
		if apperrors.Is(err, apperrors.ErrRemoteNotConfigured) {
			// Nothing can be delivered; don't burn attempts.
			q.log.Warn("Remote order service not configured, drain aborted")
			abortErr = err
			break
		}

		if err == nil || remote.IsDuplicate(err) {
			if err != nil {
				q.log.Warn("Order already stored remotely, treating as delivered",
					logging.Fields{"numero": order.Number})
			}
			state.delivered[rec.ID] = true
			result.Succeeded++
			result.Details = append(result.Details, Outcome{
				QueueID:     rec.ID,
				OrderNumber: order.Number,
				Success:     true,
				Attempts:    rec.Attempts + 1,
			})
			continue
		}

		rec.RecordFailure(err, q.now())
		outcome := Outcome{
			QueueID:     rec.ID,
			OrderNumber: order.Number,
			Attempts:    rec.Attempts,
			Error:       err.Error(),
		}
		result.Failed++

		if rec.Attempts >= q.maxAttempts {
			state.quarantined = append(state.quarantined, rec.Quarantine(q.now()))
			outcome.Quarantined = true
			result.Quarantined++
			q.log.ErrorWithCode("Order moved to failed collection", string(apperrors.CodeOf(err)), err,
				logging.Fields{"numero": order.Number, "attempts": rec.Attempts})
		} else {
			state.updated[rec.ID] = rec
			q.log.Warn("Order delivery failed", logging.Fields{
				"numero":   order.Number,
				"attempts": rec.Attempts,
				"max":      q.maxAttempts,
				"error":    err.Error(),
			})
		}
		result.Details = append(result.Details, outcome)
	}

	if err := q.writeBack(ctx, state); err != nil {
		q.raiseAlert(ctx, "", err)
		return result, err
	}

	result.Duration = q.now().Sub(started).String()
	if abortErr != nil {
		return result, abortErr
	}
	q.metrics.DrainFinished(result.Succeeded, result.Failed-result.Quarantined, result.Quarantined)
	q.log.Info("Drain completed", logging.Fields{
		"succeeded":   result.Succeeded,
		"failed":      result.Failed,
		"quarantined": result.Quarantined,
	})
	return result, nil
}

// writeBack re-reads the pending collection and applies the drain outcomes
// by ID, so orders enqueued during the drain are kept. The failed
// collection is written first: a crash between the writes duplicates a
// record rather than losing it. When the failed write itself fails, the
// quarantined records stay pending with their attempt counts so the next
// drain retries the move.
func (q *OrderQueue) writeBack(ctx context.Context, state drainState) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.loadPending(ctx)
	if err != nil {
		return err
	}

	quarantined := make(map[string]models.PendingOrder, len(state.quarantined))
	for _, f := range state.quarantined {
		quarantined[f.ID] = f.PendingOrder
	}

	failedCount := -1
	var failedErr error
	if len(state.quarantined) > 0 {
		failed, err := q.loadFailed(ctx)
		if err == nil {
			failed = append(failed, state.quarantined...)
			err = q.save(ctx, FailedKey, failed)
		}
		if err != nil {
			failedErr = err
			q.log.ErrorWithCode("Failed to move orders to failed collection, keeping them pending",
				string(apperrors.CodeOf(err)), err, logging.Fields{"count": len(state.quarantined)})
		} else {
			failedCount = len(failed)
		}
	}

	next := make([]models.PendingOrder, 0, len(current))
	for _, rec := range current {
		if state.delivered[rec.ID] {
			continue
		}
		if held, ok := quarantined[rec.ID]; ok {
			if failedErr == nil {
				continue
			}
			rec = held
		} else if updated, ok := state.updated[rec.ID]; ok {
			rec = updated
		}
		next = append(next, rec)
	}

	if err := q.save(ctx, PendingKey, next); err != nil {
		return err
	}

	if failedCount < 0 {
		failedCount = q.countFailed(ctx)
	}
	q.metrics.QueueDepth(len(next), failedCount)
	return failedErr
}

// Pending returns the pending collection in insertion order.
func (q *OrderQueue) Pending(ctx context.Context) ([]models.PendingOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadPending(ctx)
}

// Failed returns the quarantined orders.
func (q *OrderQueue) Failed(ctx context.Context) ([]models.FailedOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loadFailed(ctx)
}

// PendingCount returns the number of pending orders.
func (q *OrderQueue) PendingCount(ctx context.Context) (int, error) {
	pending, err := q.Pending(ctx)
	return len(pending), err
}

// FailedCount returns the number of quarantined orders.
func (q *OrderQueue) FailedCount(ctx context.Context) (int, error) {
	failed, err := q.Failed(ctx)
	return len(failed), err
}

// Snapshot returns both collections.
func (q *OrderQueue) Snapshot(ctx context.Context) (*Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.loadPending(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := q.loadFailed(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		PendingCount: len(pending),
		FailedCount:  len(failed),
		Pending:      pending,
		Failed:       failed,
	}, nil
}

// ClearPending discards every pending order. Maintenance use only.
func (q *OrderQueue) ClearPending(ctx context.Context) (int, error) {
	return clearCollection[models.PendingOrder](ctx, q, PendingKey)
}

// ClearFailed discards the failed collection. Maintenance use only.
func (q *OrderQueue) ClearFailed(ctx context.Context) (int, error) {
	return clearCollection[models.FailedOrder](ctx, q, FailedKey)
}

func clearCollection[T any](ctx context.Context, q *OrderQueue, key string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := load[T](ctx, q, key)
	if err != nil {
		return 0, err
	}
	if err := q.kv.Delete(ctx, key); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorageFailed, "failed to clear "+key, err)
	}
	q.log.Warn("Collection cleared", logging.Fields{"key": key, "removed": len(items)})
	return len(items), nil
}

func (q *OrderQueue) loadPending(ctx context.Context) ([]models.PendingOrder, error) {
	return load[models.PendingOrder](ctx, q, PendingKey)
}

func (q *OrderQueue) loadFailed(ctx context.Context) ([]models.FailedOrder, error) {
	return load[models.FailedOrder](ctx, q, FailedKey)
}

// countFailed is used for metrics only; errors count as zero.
func (q *OrderQueue) countFailed(ctx context.Context) int {
	failed, err := q.loadFailed(ctx)
	if err != nil {
		return 0
	}
	return len(failed)
}

// load decodes a collection. A blob that doesn't decode is moved aside
// under corruptKey and the collection starts empty.
func load[T any](ctx context.Context, q *OrderQueue, key string) ([]T, error) {
	raw, ok, err := q.kv.Get(ctx, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageFailed, "failed to read "+key, err)
	}
	if !ok || raw == "" {
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.log.ErrorWithCode("Stored collection is corrupt, starting empty", string(apperrors.ErrQueueCorrupt), err,
			logging.Fields{"key": key, "bytes": len(raw)})
		aside := corruptKey(key, q.now())
		if err := q.kv.Set(ctx, aside, raw); err != nil {
			q.log.Error("Failed to preserve corrupt collection", err, logging.Fields{"key": key})
		} else {
			q.log.Warn("Corrupt collection preserved", logging.Fields{"key": key, "aside": aside})
		}
		if err := q.kv.Delete(ctx, key); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorageFailed, "failed to reset "+key, err)
		}
		return []T{}, nil
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (q *OrderQueue) save(ctx context.Context, key string, items interface{}) error {
	data, err := json.Marshal(items)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode "+key, err)
	}
	if err := q.kv.Set(ctx, key, string(data)); err != nil {
		if apperrors.Is(err, apperrors.ErrStorageQuotaExceeded) {
			return err
		}
		return apperrors.Wrap(apperrors.ErrStorageFailed, "failed to write "+key, err)
	}
	return nil
}

func (q *OrderQueue) raiseAlert(ctx context.Context, number string, err error) {
	q.log.ErrorWithCode("Order could not be saved on this device", string(apperrors.CodeOf(err)), err,
		logging.Fields{"numero": number})
	if q.alerter == nil {
		return
	}
	msg := "The order could not be saved on this device. Do not close the page; note the order details manually."
	if number != "" {
		msg = fmt.Sprintf("Order %s could not be saved on this device. Do not close the page; note the order details manually.", number)
	}
	q.alerter.Alert(ctx, msg)
}
