package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	amqp "github.com/ThreeDotsLabs/watermill-amqp/v2/pkg/amqp"
	"github.com/google/uuid"
)

// Notification is the body shape shared by every session.message topic
// (§6): {project_id, session_id, message_id?, task_id?}.
type Notification struct {
	ProjectID uuid.UUID  `json:"project_id"`
	SessionID uuid.UUID  `json:"session_id"`
	MessageID string     `json:"message_id,omitempty"`
	TaskID    *uuid.UUID `json:"task_id,omitempty"`
}

// Broker is the publish/consume gateway. handler success ⇒ ack; a
// returned Reject ⇒ immediate nack; any other error ⇒ in-process retries,
// then nack. Both nacks are the same watermill Nack call, so what happens
// to the delivery afterwards is the subscriber's nack handling; this
// package does not choose between requeue and dead-lettering.
type Broker struct {
	publisher  wmmessage.Publisher
	subscriber wmmessage.Subscriber
	maxRetries int
	retryDelay time.Duration
}

// Reject signals "handler determined this delivery should be requeued",
// distinct from a fatal error which must not be requeued (§4.1, §7).
type Reject struct{ Err error }

func (r *Reject) Error() string { return fmt.Sprintf("reject: %v", r.Err) }
func (r *Reject) Unwrap() error { return r.Err }

// New wires a watermill-amqp publisher and subscriber against one AMQP
// connection, sharing the topology declared in Topology.
func New(amqpURI string, sessionLockWaitMillis int32, maxRetries int, retryDelay time.Duration) (*Broker, error) {
	cfg := Topology(amqpURI, sessionLockWaitMillis)
	logger := newSlogAdapter()

	pub, err := amqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("new amqp publisher: %w", err)
	}
	sub, err := amqp.NewSubscriber(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("new amqp subscriber: %w", err)
	}
	return &Broker{publisher: pub, subscriber: sub, maxRetries: maxRetries, retryDelay: retryDelay}, nil
}

// Publish sends a notification on routingKey (the watermill "topic").
func (b *Broker) Publish(ctx context.Context, routingKey string, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := wmmessage.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	if err := b.publisher.Publish(routingKey, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Handler processes one notification. A nil return acks; *Reject nacks
// without retrying; any other error is retried in-process and then
// nacked (see Broker).
type Handler func(ctx context.Context, n Notification) error

// Consume runs handler over routingKey until ctx is cancelled, applying
// the outer handler timeout (§5) and quadratic retry backoff (§7)
// entirely in-process — watermill's ack/nack only governs redelivery
// across process restarts, not this in-handler retry loop.
func (b *Broker) Consume(ctx context.Context, routingKey string, handlerTimeout time.Duration, handler Handler) error {
	messages, err := b.subscriber.Subscribe(ctx, routingKey)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", routingKey, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handleOne(ctx, routingKey, msg, handlerTimeout, handler)
		}
	}
}

func (b *Broker) handleOne(ctx context.Context, routingKey string, msg *wmmessage.Message, handlerTimeout time.Duration, handler Handler) {
	var n Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		slog.Error("broker: malformed notification body, dropping", "routing_key", routingKey, "error", err)
		msg.Ack()
		return
	}

	var lastErr error
	for attempt := 1; attempt <= b.maxRetries+1; attempt++ {
		hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
		err := handler(hctx, n)
		cancel()
		if err == nil {
			msg.Ack()
			return
		}
		lastErr = err

		var reject *Reject
		if isReject(err, &reject) {
			msg.Nack()
			return
		}
		if attempt <= b.maxRetries {
			backoff := time.Duration(math.Pow(float64(attempt), 2)) * b.retryDelay
			slog.Warn("broker: handler error, retrying", "routing_key", routingKey, "attempt", attempt, "backoff", backoff, "error", err)
			time.Sleep(backoff)
		}
	}
	slog.Error("broker: handler exhausted retries, nacking", "routing_key", routingKey, "error", lastErr)
	msg.Nack()
}

func isReject(err error, target **Reject) bool {
	r, ok := err.(*Reject)
	if ok {
		*target = r
	}
	return ok
}

// Close shuts down the publisher and subscriber.
func (b *Broker) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}
