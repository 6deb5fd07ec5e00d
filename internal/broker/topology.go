// Package broker is the message-broker gateway of §4.1: publish(exchange,
// routing_key, body) plus consumer registration binding
// (exchange, routing_key, queue) with per-queue TTL, retry count, and
// optional dead-letter routing; no prefetch count is set here. Built on watermill's AMQP
// pub/sub (ThreeDotsLabs/watermill-amqp), following the same
// wrap-watermill-while-keeping-typed-semantics approach the rest of the
// pack uses for its event buses.
package broker

import amqp "github.com/ThreeDotsLabs/watermill-amqp/v2/pkg/amqp"

// Exchange and routing-key/queue names are a fixed contract (§6) —
// changing the broker product must not change these strings.
const (
	ExchangeSessionMessage = "session.message"
	ExchangeSpaceTask      = "space.task"

	RoutingKeyInsert        = "session.message.insert"
	RoutingKeyInsertRetry   = "session.message.insert.retry"
	RoutingKeyBufferProcess = "session.message.buffer.process"
	RoutingKeyTaskComplete  = "space.task.new.complete"

	QueueInsertEntry   = "session.message.insert.entry"
	QueueInsertRetry   = "session.message.insert.retry"
	QueueBufferProcess = "session.message.buffer.process"
	QueueTaskComplete  = "space.task.new.complete"
)

func exchangeForTopic(topic string) string {
	switch topic {
	case RoutingKeyTaskComplete:
		return ExchangeSpaceTask
	default:
		return ExchangeSessionMessage
	}
}

func queueForTopic(topic string) string {
	switch topic {
	case RoutingKeyInsert:
		return QueueInsertEntry
	case RoutingKeyInsertRetry:
		return QueueInsertRetry
	case RoutingKeyBufferProcess:
		return QueueBufferProcess
	case RoutingKeyTaskComplete:
		return QueueTaskComplete
	default:
		return topic
	}
}

// Topology builds the watermill-amqp Config implementing the §6 table:
// the session.message and space.task topic exchanges (exchangeForTopic),
// one durable queue per topic, and
// (via retryQueueArguments) the insert-retry parking queue's TTL and
// dead-letter route back to insert-entry.
func Topology(amqpURI string, sessionLockWaitMillis int32) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(amqpURI, nil)

	cfg.Exchange.GenerateName = exchangeForTopic
	cfg.Exchange.Type = "topic"

	cfg.Queue.GenerateName = queueForTopic
	cfg.Queue.Arguments = func(topic string) amqp.QueueArguments {
		if topic != RoutingKeyInsertRetry {
			return nil
		}
		return amqp.QueueArguments{
			"x-message-ttl":             sessionLockWaitMillis,
			"x-dead-letter-exchange":    ExchangeSessionMessage,
			"x-dead-letter-routing-key": RoutingKeyInsert,
		}
	}

	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }

	return cfg
}
