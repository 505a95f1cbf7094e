package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/transfa/dunning-service/internal/domain"
)

// PaymentEventConsumer handles payment lifecycle events from the
// transaction service. Handlers return true to acknowledge the delivery
// and false to re-queue it.
type PaymentEventConsumer struct {
	service Service
}

// NewPaymentEventConsumer creates a consumer bound to the service.
func NewPaymentEventConsumer(service Service) *PaymentEventConsumer {
	return &PaymentEventConsumer{service: service}
}

// HandlePaymentFailed processes a payment.failed delivery.
func (c *PaymentEventConsumer) HandlePaymentFailed(body []byte) bool {
	event, ok := c.decode(body, "payment.failed")
	if !ok {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.HandlePaymentFailure(ctx, event); err != nil {
		log.Printf("payment-consumer: failure handling error for account %s: %v", event.AccountID, err)
		return false
	}
	return true
}

// HandlePaymentRecovered processes a payment.recovered delivery.
func (c *PaymentEventConsumer) HandlePaymentRecovered(body []byte) bool {
	event, ok := c.decode(body, "payment.recovered")
	if !ok {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.service.HandlePaymentRecovered(ctx, event); err != nil {
		log.Printf("payment-consumer: recovery handling error for account %s: %v", event.AccountID, err)
		return false
	}
	return true
}

// decode unmarshals a payment event. Malformed or anonymous payloads are
// acknowledged and dropped; re-queuing them can never succeed.
func (c *PaymentEventConsumer) decode(body []byte, routingKey string) (event domain.PaymentEvent, ok bool) {
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("payment-consumer: failed to unmarshal %s payload: %v", routingKey, err)
		return event, false
	}
	if event.AccountID == "" {
		log.Printf("payment-consumer: missing account id in %s event", routingKey)
		return event, false
	}
	return event, true
}
