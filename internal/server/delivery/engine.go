// Package delivery moves messages to recipients: one bounded direct attempt
// against the recipient's network address, then store-and-forward through
// the relay queue until the recipient is reachable on a live channel.
package delivery

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/burrow/internal/common"
	"github.com/dmitrijs2005/burrow/internal/logging"
	"github.com/dmitrijs2005/burrow/internal/server/models"
)

type Engine struct {
	transport Transport
	queue     *RelayQueue
	callbacks *Callbacks
	confirm   *Confirmer
	clock     clock.Clock
	metrics   *Metrics
	logger    logging.Logger
}

func NewEngine(transport Transport, queue *RelayQueue, callbacks *Callbacks, confirm *Confirmer,
	clk clock.Clock, metrics *Metrics, logger logging.Logger) *Engine {
	return &Engine{
		transport: transport,
		queue:     queue,
		callbacks: callbacks,
		confirm:   confirm,
		clock:     clk,
		metrics:   metrics,
		logger:    logger.With("module", "delivery"),
	}
}

// Deliver never fails: a failed or impossible direct attempt turns into a
// relay enqueue, reported as Method relay with Success set. cb, when given,
// receives the final status exactly once unless it expires first.
func (e *Engine) Deliver(ctx context.Context, msg *models.Message, sender, recipient *models.UserRecord, cb Callback) models.DeliveryOutcome {
	e.callbacks.Register(msg.ID, cb)

	if recipient.NetworkAddress == "" {
		e.metrics.Direct.WithLabelValues("skipped").Inc()
		return e.relay(msg, sender, recipient)
	}

	if err := e.transport.Send(ctx, recipient.NetworkAddress, msg); err != nil {
		e.metrics.Direct.WithLabelValues("failed").Inc()
		e.logger.Info(ctx, "direct delivery failed, relaying",
			"message_id", msg.ID, "address", recipient.NetworkAddress, "error", err)
		return e.relay(msg, sender, recipient)
	}

	e.metrics.Direct.WithLabelValues("delivered").Inc()
	e.confirm.Confirm(msg, models.MethodDirect)
	e.callbacks.Fire(models.DeliveryStatus{
		MessageID:   msg.ID,
		RecipientID: msg.RecipientID,
		Status:      models.StatusDelivered,
		Method:      models.MethodDirect,
		Attempts:    1,
	})

	return models.DeliveryOutcome{
		Success:   true,
		MessageID: msg.ID,
		Method:    models.MethodDirect,
		Timestamp: e.clock.Now(),
	}
}

// Relay skips the direct attempt. A message id that already has an
// envelope is rejected with common.ErrorAlreadyExists.
func (e *Engine) Relay(msg *models.Message, sender, recipient *models.UserRecord, cb Callback) (models.DeliveryOutcome, error) {
	id, added := e.queue.Enqueue(msg, sender, recipient)
	if !added {
		return models.DeliveryOutcome{}, fmt.Errorf("%w: message %s is already queued", common.ErrorAlreadyExists, msg.ID)
	}
	e.callbacks.Register(msg.ID, cb)
	return e.outcome(msg, id), nil
}

func (e *Engine) relay(msg *models.Message, sender, recipient *models.UserRecord) models.DeliveryOutcome {
	id, _ := e.queue.Enqueue(msg, sender, recipient)
	return e.outcome(msg, id)
}

func (e *Engine) outcome(msg *models.Message, id string) models.DeliveryOutcome {
	return models.DeliveryOutcome{
		Success:   true,
		MessageID: msg.ID,
		Method:    models.MethodRelay,
		RelayID:   id,
		Timestamp: e.clock.Now(),
	}
}

// Queue exposes the relay queue for status lookups.
func (e *Engine) Queue() *RelayQueue {
	return e.queue
}
