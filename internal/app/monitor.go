/**
 * @description
 * This file contains the transaction lifecycle monitor: the state machine that
 * owns a transaction from submission to terminal state. Each registered
 * transaction gets one goroutine that polls the chain status source on a fixed
 * interval, bounded by a retry budget, and fans out every state change to the
 * owning user's subscribers.
 *
 * Key invariants:
 * - The active set (keyed by internal id) is the only shared mutable
 *   structure; all inserts and removals happen under one mutex.
 * - Registration is idempotent: a second Watch for an active id is a no-op and
 *   never creates a second polling loop.
 * - Transitions are monotonic. A poll result that lands after cancellation or
 *   timeout is discarded by re-checking active-set membership before applying
 *   anything.
 * - A poll error counts exactly like a still-pending response, so the retry
 *   budget bounds total monitoring time regardless of infrastructure faults.
 *
 * @dependencies
 * - context, sync, time: Standard Go libraries.
 * - internal/domain, internal/store, internal/hub, internal/metrics: Models,
 *   persistence, fan-out and counters.
 * - pkg/chainclient, pkg/rabbitmq: Status source contract and broker mirror.
 */

package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/bridgefarm/yield-service/internal/domain"
	"github.com/bridgefarm/yield-service/internal/hub"
	"github.com/bridgefarm/yield-service/internal/metrics"
	"github.com/bridgefarm/yield-service/internal/store"
	"github.com/bridgefarm/yield-service/pkg/chainclient"
	"github.com/bridgefarm/yield-service/pkg/rabbitmq"
)

var (
	// ErrNotActive is returned when an operation targets a transaction that is
	// not in the active monitor set.
	ErrNotActive = errors.New("transaction is not actively monitored")
	// ErrNotCancellable is returned when cancellation is requested for a
	// transaction that is not in the pending state.
	ErrNotCancellable = errors.New("only pending transactions can be cancelled")
)

// StatusSource performs one idempotent status check for a chain reference.
type StatusSource interface {
	TransactionStatus(ctx context.Context, chainTxRef string) (chainclient.PollResult, error)
}

// Notifier is the hub surface the monitor needs. Delivery must never block.
type Notifier interface {
	BroadcastToUser(userID, event string, payload interface{})
	BroadcastSystem(event string, payload interface{})
}

// SleepFunc waits for d or until ctx is done. Injected so tests can run the
// polling loop without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MonitorConfig holds the monitor's tunables.
type MonitorConfig struct {
	PollInterval time.Duration
	MaxRetries   int
}

type monitorEntry struct {
	record *domain.TransactionRecord
	cancel context.CancelFunc
}

// Monitor tracks every in-flight transaction and drives its lifecycle.
type Monitor struct {
	repo     store.Repository
	source   StatusSource
	notifier Notifier
	producer rabbitmq.Publisher
	cfg      MonitorConfig
	sleep    SleepFunc

	mu     sync.Mutex
	active map[string]*monitorEntry
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor. Polling uses a real clock until SetSleep
// replaces it.
func NewMonitor(repo store.Repository, source StatusSource, notifier Notifier, producer rabbitmq.Publisher, cfg MonitorConfig) *Monitor {
	return &Monitor{
		repo:     repo,
		source:   source,
		notifier: notifier,
		producer: producer,
		cfg:      cfg,
		sleep:    defaultSleep,
		active:   make(map[string]*monitorEntry),
	}
}

// SetSleep replaces the clock. Intended for tests.
func (m *Monitor) SetSleep(fn SleepFunc) { m.sleep = fn }

// Watch registers a transaction for monitoring and starts its polling loop.
// Idempotent: returns false without side effects when the id is already
// active.
func (m *Monitor) Watch(rec *domain.TransactionRecord) bool {
	m.mu.Lock()
	if _, exists := m.active[rec.InternalID]; exists {
		m.mu.Unlock()
		log.Printf("level=info component=monitor msg=\"duplicate registration ignored\" internal_id=%s", rec.InternalID)
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.active[rec.InternalID] = &monitorEntry{record: rec, cancel: cancel}
	m.mu.Unlock()

	metrics.ActiveMonitors.Inc()

	now := time.Now().UTC()
	rec.StartedMonitoringAt = &now
	if err := m.persist(func(ctx context.Context) error {
		return m.repo.MarkMonitoringStarted(ctx, rec.InternalID, now)
	}); err != nil {
		log.Printf("level=warn component=monitor msg=\"failed to stamp monitoring start\" internal_id=%s err=%v", rec.InternalID, err)
	}

	m.wg.Add(1)
	go m.run(ctx, rec.InternalID)
	return true
}

// IsActive reports whether the id is in the active set.
func (m *Monitor) IsActive(internalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[internalID]
	return ok
}

// ActiveCount reports the size of the active set.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Cancel stops monitoring a pending transaction at the user's request. The
// in-flight poll, if any, will find the entry gone and discard its result.
func (m *Monitor) Cancel(internalID string) error {
	m.mu.Lock()
	entry, ok := m.active[internalID]
	if !ok {
		m.mu.Unlock()
		return ErrNotActive
	}
	if entry.record.Status != domain.StatusPending {
		m.mu.Unlock()
		return ErrNotCancellable
	}
	now := time.Now().UTC()
	entry.record.Status = domain.StatusCancelled
	entry.record.CompletedAt = &now
	delete(m.active, internalID)
	m.mu.Unlock()

	entry.cancel()
	metrics.ActiveMonitors.Dec()

	rec := entry.record
	if err := m.persist(func(ctx context.Context) error {
		return m.repo.UpdateTransactionStatus(ctx, rec.InternalID, store.StatusUpdateParams{
			Status:      domain.StatusCancelled,
			CompletedAt: &now,
		})
	}); err != nil {
		log.Printf("level=error component=monitor msg=\"failed to persist cancellation\" internal_id=%s err=%v", rec.InternalID, err)
	}

	m.notifier.BroadcastToUser(rec.UserID, hub.EventTransactionUpdate, domain.NewTransactionEvent(rec, "cancelled"))
	m.notifier.BroadcastToUser(rec.UserID, hub.EventUserNotification, domain.UserNotification{
		Level:      "info",
		Message:    "Transaction cancelled. Monitoring stopped at your request.",
		OccurredAt: now,
	})
	m.publish("transaction.cancelled", domain.NewTransactionEvent(rec, "cancelled"))

	log.Printf("level=info component=monitor msg=\"transaction cancelled\" internal_id=%s user_id=%s", rec.InternalID, rec.UserID)
	return nil
}

// Shutdown stops every polling loop and waits for them to exit.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	for _, entry := range m.active {
		entry.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// run drives one transaction: sleep, re-check membership, poll, repeat until
// a terminal transition or cancellation. A poll schedules its successor only
// after it completes, so two polls for the same id never overlap.
func (m *Monitor) run(ctx context.Context, internalID string) {
	defer m.wg.Done()
	for {
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return
		}
		if !m.IsActive(internalID) {
			return
		}
		if m.poll(ctx, internalID) {
			return
		}
	}
}

// poll performs one status check and applies the resulting transition.
// Returns true when monitoring for this id is over.
func (m *Monitor) poll(ctx context.Context, internalID string) bool {
	m.mu.Lock()
	entry, ok := m.active[internalID]
	m.mu.Unlock()
	if !ok {
		return true
	}
	rec := entry.record

	var ref string
	if rec.ChainTxRef != nil {
		ref = *rec.ChainTxRef
	}

	res, err := m.source.TransactionStatus(ctx, ref)
	if ctx.Err() != nil {
		// Cancelled or shut down while the check was in flight.
		return true
	}
	now := time.Now().UTC()

	m.mu.Lock()
	if _, stillActive := m.active[internalID]; !stillActive {
		// A late result must not resurrect a cancelled transaction.
		m.mu.Unlock()
		return true
	}
	rec.LastCheckedAt = &now

	if err != nil || res.Status == chainclient.TxStatusPending {
		// Transient: a poll error counts exactly like still-pending.
		rec.RetryCount++
		if rec.Status == domain.StatusMonitoring {
			rec.Status = domain.StatusPending
		}
		if rec.RetryCount >= m.cfg.MaxRetries {
			rec.Status = domain.StatusTimeout
			rec.CompletedAt = &now
			detail := "monitoring timed out before a definitive outcome"
			rec.ErrorDetail = &detail
			delete(m.active, internalID)
			m.mu.Unlock()
			m.finishTimeout(rec, now)
			return true
		}
		// Snapshot under the lock; a concurrent Cancel may mutate the shared
		// record as soon as we release it.
		snapshot := *rec
		m.mu.Unlock()

		result := "pending"
		if err != nil {
			result = "error"
			log.Printf("level=warn component=monitor msg=\"poll failed; counting as retry\" internal_id=%s retry=%d err=%v", snapshot.InternalID, snapshot.RetryCount, err)
		}
		metrics.PollsTotal.WithLabelValues(result).Inc()
		m.progress(&snapshot, now)
		return false
	}

	if res.Status == chainclient.TxStatusCompleted {
		rec.Status = domain.StatusCompleted
		rec.GasUsed = &res.GasUsed
		rec.BlockRef = &res.BlockRef
		rec.Confirmations = &res.Confirmations
		rec.CompletedAt = &now
		delete(m.active, internalID)
		m.mu.Unlock()
		m.finishCompleted(rec, now)
		return true
	}

	// Definitive failure. Never retried automatically.
	rec.Status = domain.StatusFailed
	detail := res.ErrorDetail
	rec.ErrorDetail = &detail
	rec.CompletedAt = &now
	delete(m.active, internalID)
	m.mu.Unlock()
	m.finishFailed(rec, now)
	return true
}

// progress persists a non-terminal poll and pushes a progress counter to the
// user. Individual transient errors are never shown.
func (m *Monitor) progress(rec *domain.TransactionRecord, now time.Time) {
	if err := m.persist(func(ctx context.Context) error {
		return m.repo.UpdatePollProgress(ctx, rec.InternalID, rec.Status, rec.RetryCount, now)
	}); err != nil {
		log.Printf("level=warn component=monitor msg=\"failed to persist poll progress\" internal_id=%s err=%v", rec.InternalID, err)
	}
	m.notifier.BroadcastToUser(rec.UserID, hub.EventTransactionUpdate, domain.NewTransactionEvent(rec, "progress"))
}

func (m *Monitor) finishCompleted(rec *domain.TransactionRecord, now time.Time) {
	metrics.ActiveMonitors.Dec()
	metrics.PollsTotal.WithLabelValues("completed").Inc()

	if err := m.persist(func(ctx context.Context) error {
		return m.repo.UpdateTransactionStatus(ctx, rec.InternalID, store.StatusUpdateParams{
			Status:        domain.StatusCompleted,
			GasUsed:       rec.GasUsed,
			BlockRef:      rec.BlockRef,
			Confirmations: rec.Confirmations,
			CompletedAt:   &now,
		})
	}); err != nil {
		log.Printf("level=error component=monitor msg=\"failed to persist completion\" internal_id=%s err=%v", rec.InternalID, err)
	}

	m.notifier.BroadcastToUser(rec.UserID, hub.EventTransactionUpdate, domain.NewTransactionEvent(rec, "completed"))
	m.notifier.BroadcastToUser(rec.UserID, hub.EventUserNotification, domain.UserNotification{
		Level:      "success",
		Message:    "Your " + string(rec.Type) + " of " + rec.Amount.String() + " confirmed on chain.",
		OccurredAt: now,
	})

	// Downstream balance refresh is fire-and-forget; the state machine never
	// waits for it.
	refresh := domain.BalanceRefreshEvent{UserID: rec.UserID, Reason: "transaction_completed", OccurredAt: now}
	m.notifier.BroadcastToUser(rec.UserID, hub.EventBalanceUpdate, refresh)
	m.publish("balance.refresh", refresh)
	m.publish("transaction.completed", domain.NewTransactionEvent(rec, "completed"))

	log.Printf("level=info component=monitor msg=\"transaction completed\" internal_id=%s user_id=%s retries=%d", rec.InternalID, rec.UserID, rec.RetryCount)
}

func (m *Monitor) finishFailed(rec *domain.TransactionRecord, now time.Time) {
	metrics.ActiveMonitors.Dec()
	metrics.PollsTotal.WithLabelValues("failed").Inc()

	if err := m.persist(func(ctx context.Context) error {
		return m.repo.UpdateTransactionStatus(ctx, rec.InternalID, store.StatusUpdateParams{
			Status:      domain.StatusFailed,
			ErrorDetail: rec.ErrorDetail,
			CompletedAt: &now,
		})
	}); err != nil {
		log.Printf("level=error component=monitor msg=\"failed to persist failure\" internal_id=%s err=%v", rec.InternalID, err)
	}

	detail := ""
	if rec.ErrorDetail != nil {
		detail = *rec.ErrorDetail
	}
	m.notifier.BroadcastToUser(rec.UserID, hub.EventTransactionUpdate, domain.NewTransactionEvent(rec, "failed"))
	m.notifier.BroadcastToUser(rec.UserID, hub.EventUserNotification, domain.UserNotification{
		Level:      "error",
		Message:    "Your " + string(rec.Type) + " failed: " + detail,
		OccurredAt: now,
	})
	m.publish("transaction.failed", domain.NewTransactionEvent(rec, "failed"))

	log.Printf("level=warn component=monitor msg=\"transaction failed\" internal_id=%s user_id=%s detail=%q", rec.InternalID, rec.UserID, detail)
}

func (m *Monitor) finishTimeout(rec *domain.TransactionRecord, now time.Time) {
	metrics.ActiveMonitors.Dec()
	metrics.PollsTotal.WithLabelValues("timeout").Inc()

	if err := m.persist(func(ctx context.Context) error {
		return m.repo.UpdateTransactionStatus(ctx, rec.InternalID, store.StatusUpdateParams{
			Status:      domain.StatusTimeout,
			ErrorDetail: rec.ErrorDetail,
			CompletedAt: &now,
		})
	}); err != nil {
		log.Printf("level=error component=monitor msg=\"failed to persist timeout\" internal_id=%s err=%v", rec.InternalID, err)
	}

	m.notifier.BroadcastToUser(rec.UserID, hub.EventTransactionUpdate, domain.NewTransactionEvent(rec, "timeout"))
	m.notifier.BroadcastToUser(rec.UserID, hub.EventUserNotification, domain.UserNotification{
		Level:      "warning",
		Message:    "Monitoring stopped after the retry budget was exhausted. The transaction may still settle; please verify it manually.",
		OccurredAt: now,
	})
	m.publish("transaction.timeout", domain.NewTransactionEvent(rec, "timeout"))

	log.Printf("level=warn component=monitor msg=\"monitoring timed out\" internal_id=%s user_id=%s retries=%d", rec.InternalID, rec.UserID, rec.RetryCount)
}

// publish mirrors an event to the broker without blocking the caller.
func (m *Monitor) publish(routingKey string, body interface{}) {
	if m.producer == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.producer.Publish(ctx, rabbitmq.EventsExchange, routingKey, body); err != nil {
			log.Printf("level=warn component=monitor msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
		}
	}()
}

// persist runs a repository write on a bounded background context, detached
// from any request or polling context that may already be cancelled.
func (m *Monitor) persist(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx)
}
