// Package consumer reads the customer events the outbox relay publishes to
// Redis and forwards the interesting ones to the operator.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/revolico-scraper/internal/database"
	"github.com/maltedev/revolico-scraper/internal/notify"
)

type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type Config struct {
	Stream string
	Group  string
	Name   string
	Block  time.Duration
	Count  int64
}

type Consumer struct {
	client   StreamClient
	notifier notify.Notifier
	cfg      Config
	logger   *slog.Logger
}

// streamEvent is the "data" field written by database.Relay.
type streamEvent struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Payload payload `json:"payload"`
}

type payload struct {
	CustomerID  int64  `json:"customer_id"`
	Phone       string `json:"phone"`
	SourceURL   string `json:"source_url"`
	SourceTitle string `json:"source_title"`
	Category    string `json:"category"`
	Notes       string `json:"notes"`
}

func New(client StreamClient, notifier notify.Notifier, cfg Config, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = database.DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = "revolico-notifier"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:   client,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "stream_consumer"),
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}
	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group)

	for {
		if _, err := c.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadOnce handles one batch and returns how many messages were acknowledged.
func (c *Consumer) ReadOnce(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Error("failed to process message", "id", msg.ID, "error", err)
				continue
			}
			if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				continue
			}
			acked++
		}
	}
	return acked, nil
}

// handle returns an error only when the message should be redelivered.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) error {
	data, _ := msg.Values["data"].(string)
	var event streamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		c.logger.Warn("dropping malformed message", "id", msg.ID, "error", err)
		return nil
	}

	text := message(event.Type, event.Payload)
	if text == "" {
		return nil
	}
	if err := c.notifier.Notify(ctx, text); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	c.logger.Info("event forwarded", "id", msg.ID, "type", event.Type, "customer_id", event.Payload.CustomerID)
	return nil
}

// message renders the operator text for an event type, or "" when the
// event is not forwarded.
func message(eventType string, p payload) string {
	switch eventType {
	case database.EventCustomerDiscovered:
		text := "Nuevo cliente " + p.Phone
		if p.SourceTitle != "" {
			text += ": " + p.SourceTitle
		}
		if p.Category != "" {
			text += " [" + p.Category + "]"
		}
		if p.SourceURL != "" {
			text += "\n" + p.SourceURL
		}
		return text
	case database.EventWhatsAppMessageFailed:
		text := "WhatsApp message to " + p.Phone + " failed"
		if p.Notes != "" {
			text += ": " + p.Notes
		}
		return text
	}
	return ""
}
