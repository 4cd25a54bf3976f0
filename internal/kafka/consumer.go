package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/IBM/sarama"
)

// EventHandler представляет обработчик событий
type EventHandler func(ctx context.Context, event *models.Event) error

// ackDecision определяет судьбу сообщения после вызова обработчика
type ackDecision int

const (
	decisionAck        ackDecision = iota // обработано, подтвердить
	decisionRetry                         // временный сбой, вернуть в топик
	decisionDeadLetter                    // постоянный сбой или исчерпан бюджет, в DLQ
)

// decide выбирает судьбу сообщения: успех подтверждается; постоянные ошибки
// (валидация, отсутствие сущности, недопустимый переход) уходят в DLQ без
// повтора; временные ошибки возвращаются в топик, пока не исчерпан
// транспортный бюджет попыток
func decide(err error, attempt, maxAttempts int) ackDecision {
	if err == nil {
		return decisionAck
	}
	if !apperr.IsRetryable(err) {
		return decisionDeadLetter
	}
	if attempt+1 >= maxAttempts {
		return decisionDeadLetter
	}
	return decisionRetry
}

// Consumer представляет Kafka consumer
type Consumer struct {
	consumer    sarama.ConsumerGroup
	producer    *Producer
	log         *logger.Logger
	handlers    map[models.EventType]EventHandler
	topics      []string
	maxAttempts int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewConsumer создает новый Kafka consumer.
// Producer нужен для возврата сообщений в топик и отправки в dead-letter
func NewConsumer(cfg *config.KafkaConfig, producer *Producer, log *logger.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Session.Timeout = 10000000000   // 10 секунд
	config.Consumer.Group.Heartbeat.Interval = 3000000000 // 3 секунды

	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	topics := []string{
		cfg.Topics.DeliveryCreated,
		cfg.Topics.Assignment,
		cfg.Topics.StatusUpdate,
		cfg.Topics.LocationUpdate,
	}

	log.Info("Kafka consumer created successfully")

	return &Consumer{
		consumer:    consumer,
		producer:    producer,
		log:         log,
		handlers:    make(map[models.EventType]EventHandler),
		topics:      topics,
		maxAttempts: cfg.MaxAttempts,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// RegisterHandler регистрирует обработчик для определенного типа события
func (c *Consumer) RegisterHandler(eventType models.EventType, handler EventHandler) {
	c.handlers[eventType] = handler
	c.log.WithField("event_type", eventType).Info("Event handler registered")
}

// Start запускает consumer
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			default:
				if err := c.consumer.Consume(c.ctx, c.topics, c); err != nil {
					c.log.WithError(err).Error("Error consuming messages")
				}
			}
		}
	}()

	c.log.Info("Kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.consumer.Close()
}

// Setup реализует интерфейс sarama.ConsumerGroupHandler
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup реализует интерфейс sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim реализует интерфейс sarama.ConsumerGroupHandler.
// Сообщение подтверждается всегда: временные сбои возвращаются в топик
// с увеличенным счетчиком попыток, постоянные уходят в DLQ, поэтому
// зависших на одном сообщении партиций не бывает
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			c.processMessage(message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// processMessage обрабатывает полученное сообщение
func (c *Consumer) processMessage(message *sarama.ConsumerMessage) {
	attempt := messageAttempt(message)

	var event models.Event
	if err := json.Unmarshal(message.Value, &event); err != nil {
		// Нечитаемое сообщение не станет читаемым от повтора
		c.log.WithError(err).
			WithField("topic", message.Topic).
			WithField("offset", message.Offset).
			Error("Poison message, sending to dead-letter")
		c.deadLetter(message, attempt, fmt.Sprintf("unmarshal failed: %v", err))
		return
	}

	handler, exists := c.handlers[event.Type]
	if !exists {
		c.log.WithField("event_type", event.Type).Warn("No handler registered for event type")
		return
	}

	err := handler(c.ctx, &event)

	switch decide(err, attempt, c.maxAttempts) {
	case decisionAck:
		c.log.WithField("event_type", event.Type).
			WithField("event_id", event.ID).
			Debug("Event processed successfully")

	case decisionRetry:
		c.log.WithError(err).
			WithField("event_type", event.Type).
			WithField("event_id", event.ID).
			WithField("attempt", attempt+1).
			Warn("Handler failed, returning event to topic")
		if pubErr := c.producer.Republish(message.Topic, string(message.Key), event, attempt+1); pubErr != nil {
			c.log.WithError(pubErr).Error("Failed to republish event, sending to dead-letter")
			c.deadLetter(message, attempt, err.Error())
		}

	case decisionDeadLetter:
		c.log.WithError(err).
			WithField("event_type", event.Type).
			WithField("event_id", event.ID).
			WithField("attempts", attempt+1).
			Error("Handler failed permanently, sending to dead-letter")
		c.deadLetter(message, attempt, err.Error())
	}
}

// deadLetter отправляет сообщение в dead-letter топик; сбой отправки только
// логируется - блокировать партицию из-за DLQ нельзя
func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, attempt int, reason string) {
	if err := c.producer.PublishDeadLetter(message.Topic, reason, attempt+1, message.Value); err != nil {
		c.log.WithError(err).
			WithField("topic", message.Topic).
			WithField("offset", message.Offset).
			Error("Failed to publish to dead-letter topic")
	}
}

// messageAttempt читает номер транспортной попытки из заголовка сообщения
func messageAttempt(message *sarama.ConsumerMessage) int {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == HeaderAttempt {
			if n, err := strconv.Atoi(string(h.Value)); err == nil {
				return n
			}
		}
	}
	return 0
}
