package kafka

import (
	"errors"
	"testing"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	const maxAttempts = 5

	t.Run("success acks", func(t *testing.T) {
		assert.Equal(t, decisionAck, decide(nil, 0, maxAttempts))
		assert.Equal(t, decisionAck, decide(nil, 4, maxAttempts))
	})

	t.Run("permanent errors go to dead-letter without retry", func(t *testing.T) {
		permanent := []error{
			apperr.NewValidation("bad coordinates"),
			apperr.NewNotFound("delivery", "abc"),
			apperr.NewState("DELIVERED", "PENDING"),
		}
		for _, err := range permanent {
			assert.Equal(t, decisionDeadLetter, decide(err, 0, maxAttempts), "%T", err)
		}
	})

	t.Run("transient errors retry until budget exhausted", func(t *testing.T) {
		transient := apperr.NewExternal("routing-provider", "timeout", nil)

		assert.Equal(t, decisionRetry, decide(transient, 0, maxAttempts))
		assert.Equal(t, decisionRetry, decide(transient, 3, maxAttempts))
		assert.Equal(t, decisionDeadLetter, decide(transient, 4, maxAttempts))
	})

	t.Run("unknown errors are treated as transient", func(t *testing.T) {
		err := errors.New("connection reset")
		assert.Equal(t, decisionRetry, decide(err, 0, maxAttempts))
		assert.Equal(t, decisionDeadLetter, decide(err, maxAttempts-1, maxAttempts))
	})
}

func TestMessageAttempt(t *testing.T) {
	t.Run("missing header defaults to zero", func(t *testing.T) {
		msg := &sarama.ConsumerMessage{}
		assert.Equal(t, 0, messageAttempt(msg))
	})

	t.Run("reads attempt header", func(t *testing.T) {
		msg := &sarama.ConsumerMessage{
			Headers: []*sarama.RecordHeader{
				{Key: []byte("event_type"), Value: []byte("delivery.created")},
				{Key: []byte(HeaderAttempt), Value: []byte("3")},
			},
		}
		assert.Equal(t, 3, messageAttempt(msg))
	})

	t.Run("unparseable header defaults to zero", func(t *testing.T) {
		msg := &sarama.ConsumerMessage{
			Headers: []*sarama.RecordHeader{
				{Key: []byte(HeaderAttempt), Value: []byte("many")},
			},
		}
		assert.Equal(t, 0, messageAttempt(msg))
	})
}
