package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// HeaderAttempt - заголовок с номером транспортной попытки доставки сообщения
const HeaderAttempt = "attempt"

// Producer представляет Kafka producer
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает новый Kafka producer
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll       // Ждем подтверждения от всех реплик
	config.Producer.Retry.Max = 3                          // Максимум 3 попытки
	config.Producer.Return.Successes = true                // Возвращаем успешные результаты
	config.Producer.Compression = sarama.CompressionSnappy // Сжатие данных

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka producer created successfully")

	return &Producer{
		producer: producer,
		log:      log,
		topics:   &cfg.Topics,
	}, nil
}

// Close закрывает producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishDeliveryCreated публикует событие создания доставки
func (p *Producer) PublishDeliveryCreated(deliveryID uuid.UUID) error {
	event, err := models.NewEvent(models.EventTypeDeliveryCreated, models.DeliveryCreatedEvent{
		DeliveryID: deliveryID,
	})
	if err != nil {
		return err
	}

	return p.publishEvent(p.topics.DeliveryCreated, deliveryID.String(), event, 0)
}

// PublishAssignment публикует задание на подбор водителя.
// Ключ сообщения - ID доставки, чтобы повторы по одной доставке
// попадали в одну партицию
func (p *Producer) PublishAssignment(msg models.AssignmentMessage) error {
	event, err := models.NewEvent(models.EventTypeAssignmentRequested, msg)
	if err != nil {
		return err
	}

	return p.publishEvent(p.topics.Assignment, msg.DeliveryID.String(), event, 0)
}

// PublishStatusUpdate публикует внешнее подтверждение смены статуса
func (p *Producer) PublishStatusUpdate(update models.StatusUpdateEvent) error {
	event, err := models.NewEvent(models.EventTypeStatusUpdate, update)
	if err != nil {
		return err
	}

	return p.publishEvent(p.topics.StatusUpdate, update.DeliveryID.String(), event, 0)
}

// PublishDriverLocation публикует обновление локации водителя.
// Ключ - ID водителя: обновления одного водителя упорядочены внутри партиции
func (p *Producer) PublishDriverLocation(update models.LocationUpdateEvent) error {
	event, err := models.NewEvent(models.EventTypeDriverLocation, update)
	if err != nil {
		return err
	}

	return p.publishEvent(p.topics.LocationUpdate, update.DriverID.String(), event, 0)
}

// Publish публикует уведомление для realtime-слоя; реализует NotificationSink.
// Сбой публикации - ответственность вызывающего: логировать и продолжать
func (p *Producer) Publish(ctx context.Context, notificationType string, deliveryID uuid.UUID, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	event, err := models.NewEvent(models.EventTypeNotification, models.NotificationEvent{
		Type:       notificationType,
		DeliveryID: deliveryID,
		Payload:    data,
	})
	if err != nil {
		return err
	}

	return p.publishEvent(p.topics.Notifications, deliveryID.String(), event, 0)
}

// PublishDeadLetter отправляет необработанное сообщение в dead-letter топик
func (p *Producer) PublishDeadLetter(topic, reason string, attempts int, payload []byte) error {
	event, err := models.NewEvent(models.EventTypeDeadLetter, models.DeadLetterEvent{
		Topic:    topic,
		Reason:   reason,
		Attempts: attempts,
		Payload:  payload,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return p.publishEvent(p.topics.DeadLetter, topic, event, 0)
}

// Republish возвращает событие в его топик с увеличенным счетчиком попыток
func (p *Producer) Republish(topic, key string, event models.Event, attempt int) error {
	return p.publishEvent(topic, key, event, attempt)
}

// publishEvent публикует событие в указанный топик
func (p *Producer) publishEvent(topic, key string, event models.Event, attempt int) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
			{
				Key:   []byte("timestamp"),
				Value: []byte(event.Timestamp.Format(time.RFC3339)),
			},
			{
				Key:   []byte(HeaderAttempt),
				Value: []byte(strconv.Itoa(attempt)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}

	p.log.WithField("topic", topic).
		WithField("partition", partition).
		WithField("offset", offset).
		WithField("event_type", event.Type).
		WithField("event_id", event.ID).
		Debug("Event published successfully")

	return nil
}
