// Package consumer feeds order-completion events from AMQP into the ledger.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/loyalty/internal/config"
	"go.uber.org/zap"
)

const (
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
)

type Consumer struct {
	cfg     config.AMQPConfig
	log     *zap.Logger
	handler *Handler

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg config.AMQPConfig, log *zap.Logger, handler *Handler) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Workers
	}
	return &Consumer{
		cfg:     cfg,
		log:     log.Named("consumer"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.Info("connected to amqp", zap.String("queue", c.cfg.Queue), zap.Int("prefetch", c.cfg.Prefetch))
	go c.monitor(conn)
	return nil
}

func (c *Consumer) monitor(conn *amqp.Connection) {
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case err := <-closed:
		if err != nil {
			c.log.Error("amqp connection closed unexpectedly", zap.Error(err))
			c.reconnect()
		}
	case <-c.ctx.Done():
	}
}

func (c *Consumer) reconnect() {
	c.closeConn()

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		if err := c.connect(); err == nil {
			c.log.Info("reconnected to amqp", zap.Int("attempt", attempt))
			if err := c.consume(); err != nil {
				c.log.Error("restart consume failed", zap.Error(err))
			}
			return
		}

		delay := reconnectDelay * time.Duration(attempt)
		c.log.Warn("amqp reconnect failed", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		select {
		case <-time.After(delay):
		case <-c.ctx.Done():
			return
		}
	}
	c.log.Error("amqp reconnect attempts exhausted")
}

// Start connects and launches the workers. It does not block.
func (c *Consumer) Start() error {
	if err := c.connect(); err != nil {
		return err
	}
	return c.consume()
}

func (c *Consumer) consume() error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	if ch == nil {
		return errors.New("amqp channel is not initialized")
	}

	msgs, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.log.Info("starting consumer workers", zap.Int("workers", c.cfg.Workers))
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(msgs, i)
	}
	return nil
}

func (c *Consumer) worker(msgs <-chan amqp.Delivery, id int) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.log.Debug("delivery channel closed", zap.Int("worker_id", id))
				return
			}
			c.handler.Handle(c.ctx, d)
		}
	}
}

// Close stops the workers and waits for in-flight deliveries.
func (c *Consumer) Close() {
	c.cancel()
	c.wg.Wait()
	c.closeConn()
	c.log.Info("consumer closed")
}

func (c *Consumer) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		_ = c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
