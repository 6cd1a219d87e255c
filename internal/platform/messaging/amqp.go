package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	domain "github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/platform/config"
	"github.com/hanko-field/fulfillment/internal/services"
)

const (
	DefaultExchange   = "purchasing"
	DefaultQueue      = "fulfillment.purchase-received"
	DefaultRoutingKey = "purchase.received"
)

// PurchaseReceivedMessage is the body published by the purchasing workflow for every received line.
type PurchaseReceivedMessage struct {
	ReceiptID                  string `json:"receiptId"`
	SKU                        string `json:"sku"`
	StoreID                    string `json:"storeId,omitempty"`
	Supplier                   string `json:"supplier,omitempty"`
	Quantity                   int64  `json:"quantity"`
	UnitPriceCents             int64  `json:"unitPriceCents"`
	AllocatedShippingCostCents int64  `json:"allocatedShippingCostCents"`
}

// Disposition says what to do with a delivery after handling.
type Disposition int

const (
	Ack Disposition = iota
	// Reject drops the message (or dead-letters it when the queue has a DLX).
	Reject
	// Requeue returns the message for another attempt.
	Requeue
)

// AMQPConsumer feeds purchase receipts from a durable queue into the receipt service as the
// configured service actor. Duplicate receipts are acknowledged since the line already exists.
type AMQPConsumer struct {
	cfg      config.AMQPConfig
	receipts services.PurchaseReceiptService
	actor    domain.Actor
	logger   *zap.Logger
	dial     func(url string) (*amqp.Connection, error)
}

func NewAMQPConsumer(cfg config.AMQPConfig, receipts services.PurchaseReceiptService, logger *zap.Logger) (*AMQPConsumer, error) {
	if receipts == nil {
		return nil, errors.New("amqp consumer: receipt service is required")
	}
	if strings.TrimSpace(cfg.ActorID) == "" {
		return nil, errors.New("amqp consumer: actor id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = DefaultRoutingKey
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &AMQPConsumer{
		cfg:      cfg,
		receipts: receipts,
		actor:    domain.Actor{ID: cfg.ActorID, Kind: domain.ActorService},
		logger:   logger.With(zap.String("queue", cfg.Queue)),
		dial:     amqp.Dial,
	}, nil
}

// Run connects, declares the topology and consumes until ctx is done. A dropped connection is
// redialled with backoff.
func (c *AMQPConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("amqp consumer disconnected", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (c *AMQPConsumer) consume(ctx context.Context) error {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	if err := ch.QueueBind(q.Name, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "fulfillment", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	c.logger.Info("amqp consumer started", zap.String("routing_key", c.cfg.RoutingKey))

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			return fmt.Errorf("connection closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.settle(d, c.Handle(ctx, d.Body))
		}
	}
}

func (c *AMQPConsumer) settle(d amqp.Delivery, disposition Disposition) {
	var err error
	switch disposition {
	case Ack:
		err = d.Ack(false)
	case Reject:
		err = d.Reject(false)
	case Requeue:
		err = d.Nack(false, true)
	}
	if err != nil {
		c.logger.Warn("amqp settle failed", zap.Error(err), zap.Uint64("delivery_tag", d.DeliveryTag))
	}
}

// Handle processes one message body and decides its disposition.
func (c *AMQPConsumer) Handle(ctx context.Context, body []byte) Disposition {
	var msg PurchaseReceivedMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		c.logger.Warn("amqp purchase message malformed", zap.Error(err))
		return Reject
	}
	logger := c.logger.With(zap.String("receipt_id", msg.ReceiptID), zap.String("sku", msg.SKU))

	result, err := c.receipts.ReceivePurchase(ctx, services.ReceivePurchaseCommand{
		ReceiptID:             msg.ReceiptID,
		SKU:                   msg.SKU,
		StoreID:               msg.StoreID,
		Supplier:              msg.Supplier,
		Quantity:              msg.Quantity,
		UnitPrice:             domain.Money(msg.UnitPriceCents),
		AllocatedShippingCost: domain.Money(msg.AllocatedShippingCostCents),
		Actor:                 c.actor,
	})
	switch {
	case err == nil:
		logger.Info("purchase receipt consumed",
			zap.Int64("allocated", result.Allocation.TotalAllocated),
			zap.Int64("remaining", result.Allocation.RemainingQuantity),
		)
		return Ack
	case errors.Is(err, services.ErrDuplicateReceipt):
		logger.Info("purchase receipt already recorded")
		return Ack
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrUnauthenticated):
		logger.Warn("purchase receipt rejected", zap.Error(err))
		return Reject
	default:
		logger.Warn("purchase receipt failed, requeueing", zap.Error(err))
		return Requeue
	}
}
