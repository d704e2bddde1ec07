package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/models"
)

// QueueConfig holds the retry loop timings.
type QueueConfig struct {
	Tick        time.Duration
	Spacing     time.Duration
	MaxAttempts int
	Retention   time.Duration
}

// DefaultQueueConfig: tick 5s, 30s between attempts, 5 attempts, delivered
// envelopes kept for an hour.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Tick:        5 * time.Second,
		Spacing:     30 * time.Second,
		MaxAttempts: 5,
		Retention:   time.Hour,
	}
}

// RelayID derives the queue key of a message.
func RelayID(messageID string) string {
	return "relay_" + messageID
}

// RelayQueue holds envelopes until the recipient shows up on a live
// channel. Network sends happen outside mu.
type RelayQueue struct {
	mu        sync.Mutex
	envelopes map[string]*models.RelayEnvelope
	ticking   atomic.Bool

	cfg       QueueConfig
	presence  Presence
	callbacks *Callbacks
	confirm   *Confirmer
	clock     clock.Clock
	metrics   *Metrics
	logger    logging.Logger
}

func NewRelayQueue(cfg QueueConfig, presence Presence, callbacks *Callbacks, confirm *Confirmer,
	clk clock.Clock, metrics *Metrics, logger logging.Logger) *RelayQueue {
	return &RelayQueue{
		envelopes: make(map[string]*models.RelayEnvelope),
		cfg:       cfg,
		presence:  presence,
		callbacks: callbacks,
		confirm:   confirm,
		clock:     clk,
		metrics:   metrics,
		logger:    logger.With("module", "relay"),
	}
}

// Enqueue adds an envelope for msg. Enqueueing the same message twice keeps
// the existing envelope and reports false.
func (q *RelayQueue) Enqueue(msg *models.Message, sender, recipient *models.UserRecord) (string, bool) {
	id := RelayID(msg.ID)

	q.mu.Lock()
	if _, ok := q.envelopes[id]; ok {
		q.mu.Unlock()
		return id, false
	}
	q.envelopes[id] = &models.RelayEnvelope{
		RelayID:   id,
		Message:   msg,
		Sender:    sender.Clone(),
		Recipient: recipient.Clone(),
		Timestamp: q.clock.Now(),
	}
	q.mu.Unlock()

	q.metrics.RelayEnqueued.Inc()
	q.metrics.RelayPending.Inc()
	q.logger.Info(context.Background(), "message queued for relay", "relay_id", id, "recipient_id", msg.RecipientID)
	return id, true
}

// Get returns a snapshot of the envelope.
func (q *RelayQueue) Get(relayID string) (models.RelayEnvelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	env, ok := q.envelopes[relayID]
	if !ok {
		return models.RelayEnvelope{}, false
	}
	return *env, true
}

func (q *RelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.envelopes)
}

type dueEnvelope struct {
	id       string
	msg      *models.Message
	attempts int
}

// Tick runs one pass over the queue. It returns false without doing
// anything when another pass is still running.
func (q *RelayQueue) Tick(ctx context.Context) bool {
	if !q.ticking.CompareAndSwap(false, true) {
		return false
	}
	defer q.ticking.Store(false)

	now := q.clock.Now()

	var (
		due       []dueEnvelope
		abandoned []*models.RelayEnvelope
		purged    int
	)

	q.mu.Lock()
	for id, env := range q.envelopes {
		switch {
		case env.Delivered:
			if now.Sub(env.DeliveredAt) >= q.cfg.Retention {
				delete(q.envelopes, id)
				purged++
			}
		case env.Abandoned:
		case env.Attempts >= q.cfg.MaxAttempts:
			env.Abandoned = true
			snapshot := *env
			abandoned = append(abandoned, &snapshot)
		case !env.LastAttempt.IsZero() && now.Sub(env.LastAttempt) < q.cfg.Spacing:
		default:
			env.Attempts++
			env.LastAttempt = now
			due = append(due, dueEnvelope{id: id, msg: env.Message, attempts: env.Attempts})
		}
	}
	q.mu.Unlock()

	if purged > 0 {
		q.metrics.RelayPurged.Add(float64(purged))
		q.logger.Debug(ctx, "purged delivered envelopes", "count", purged)
	}

	for _, env := range abandoned {
		q.metrics.RelayAbandoned.Inc()
		q.metrics.RelayPending.Dec()
		q.logger.Warn(ctx, "relay abandoned", "relay_id", env.RelayID, "attempts", env.Attempts)
		q.callbacks.Fire(models.DeliveryStatus{
			MessageID:   env.Message.ID,
			RecipientID: env.Message.RecipientID,
			Status:      models.StatusAbandoned,
			Method:      models.MethodRelay,
			Attempts:    env.Attempts,
		})
	}

	for _, d := range due {
		q.attempt(ctx, d, now)
	}

	q.callbacks.Sweep(now)
	return true
}

func (q *RelayQueue) attempt(ctx context.Context, d dueEnvelope, now time.Time) {
	ch, ok := q.presence.Find(d.msg.RecipientID)
	if !ok {
		q.logger.Debug(ctx, "recipient offline", "relay_id", d.id, "attempt", d.attempts)
		return
	}
	if err := ch.Send(models.EventPrivateMessage, d.msg); err != nil {
		q.logger.Warn(ctx, "relay push failed", "relay_id", d.id, "error", err)
		return
	}

	q.mu.Lock()
	env, ok := q.envelopes[d.id]
	first := ok && !env.Delivered
	if first {
		env.Delivered = true
		env.DeliveredAt = now
	}
	q.mu.Unlock()
	if !first {
		return
	}

	q.metrics.RelayDelivered.Inc()
	q.metrics.RelayPending.Dec()
	q.logger.Info(ctx, "message relayed", "relay_id", d.id, "attempt", d.attempts)

	q.confirm.Confirm(d.msg, models.MethodRelay)
	q.callbacks.Fire(models.DeliveryStatus{
		MessageID:   d.msg.ID,
		RecipientID: d.msg.RecipientID,
		Status:      models.StatusDelivered,
		Method:      models.MethodRelay,
		Attempts:    d.attempts,
	})
}

// Run ticks until ctx is done.
func (q *RelayQueue) Run(ctx context.Context) error {
	t := q.clock.Ticker(q.cfg.Tick)
	defer t.Stop()

	q.logger.Info(ctx, "relay loop started", "tick", q.cfg.Tick.String())
	for {
		select {
		case <-ctx.Done():
			q.logger.Info(ctx, "relay loop stopped")
			return nil
		case <-t.C:
			if !q.Tick(ctx) {
				q.logger.Debug(ctx, "relay tick skipped, previous still running")
			}
		}
	}
}
