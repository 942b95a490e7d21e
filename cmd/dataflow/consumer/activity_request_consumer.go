// Package consumer serves activity requests from a redis list
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/casemirror/dataflow/cmd/dataflow/activity"
	redisclient "github.com/casemirror/dataflow/common/redis"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Queue is the part of the redis client the consumer uses
type Queue interface {
	BlockingPopList(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error)
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error)
	SetWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	PushWithExpiry(ctx context.Context, key, value string, expiry time.Duration) error
}

// Invoker runs named activities
type Invoker interface {
	Invoke(ctx context.Context, name string, input json.RawMessage) *activity.Response
}

// Request is one activity request on the queue
type Request struct {
	RequestID string          `json:"request_id"`
	Activity  string          `json:"activity"`
	Input     json.RawMessage `json:"input,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`
}

// Reply is pushed to Request.ReplyTo and memoised under the request id
type Reply struct {
	RequestID string `json:"request_id"`
	Replayed  bool   `json:"replayed,omitempty"`
	*activity.Response
}

// Config holds consumer settings
type Config struct {
	RequestQueue string
	ResultTTL    time.Duration
	LockTTL      time.Duration
	PollTimeout  time.Duration
}

// ActivityRequestConsumer pops activity requests and runs each request id
// at most once at a time. Completed results are memoised so a redelivered
// request gets the stored reply instead of a second execution.
type ActivityRequestConsumer struct {
	queue   Queue
	invoker Invoker
	logger  Logger
	cfg     Config
}

// NewActivityRequestConsumer creates a consumer
func NewActivityRequestConsumer(queue Queue, invoker Invoker, cfg Config, logger Logger) *ActivityRequestConsumer {
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &ActivityRequestConsumer{
		queue:   queue,
		invoker: invoker,
		logger:  logger,
		cfg:     cfg,
	}
}

func resultKey(requestID string) string {
	return "dataflow:activity:result:" + requestID
}

func lockKey(requestID string) string {
	return "dataflow:activity:lock:" + requestID
}

// Start processes requests until ctx is cancelled
func (c *ActivityRequestConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting activity request consumer", "queue", c.cfg.RequestQueue)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("activity request consumer stopping")
			return nil
		default:
			if err := c.processNext(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.logger.Error("failed to process activity request", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (c *ActivityRequestConsumer) processNext(ctx context.Context) error {
	values, err := c.queue.BlockingPopList(ctx, c.cfg.PollTimeout, c.cfg.RequestQueue)
	if err != nil {
		return err
	}
	if len(values) < 2 {
		return nil
	}
	return c.Handle(ctx, values[1])
}

// Handle runs one serialized request
func (c *ActivityRequestConsumer) Handle(ctx context.Context, payload string) error {
	var req Request
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return fmt.Errorf("failed to unmarshal activity request: %w", err)
	}
	if req.RequestID == "" || req.Activity == "" {
		return fmt.Errorf("activity request missing request_id or activity")
	}

	stored, err := c.queue.Get(ctx, resultKey(req.RequestID))
	switch {
	case err == nil:
		c.logger.Info("replaying stored activity result",
			"request_id", req.RequestID,
			"activity", req.Activity)
		return c.replay(ctx, req, stored)
	case !errors.Is(err, redisclient.ErrNotFound):
		return fmt.Errorf("failed to check stored result: %w", err)
	}

	acquired, err := c.queue.SetNX(ctx, lockKey(req.RequestID), req.Activity, c.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock request: %w", err)
	}
	if !acquired {
		c.logger.Info("activity request already in flight, skipping",
			"request_id", req.RequestID,
			"activity", req.Activity)
		return nil
	}
	defer func() {
		if err := c.queue.Delete(context.WithoutCancel(ctx), lockKey(req.RequestID)); err != nil {
			c.logger.Warn("failed to release request lock", "request_id", req.RequestID, "error", err)
		}
	}()

	c.logger.Info("processing activity request",
		"request_id", req.RequestID,
		"activity", req.Activity)

	resp := c.invoker.Invoke(ctx, req.Activity, req.Input)

	data, err := json.Marshal(Reply{RequestID: req.RequestID, Response: resp})
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	// retryable failures stay unmemoised so a redelivery runs again
	if !resp.Failed() || !resp.Error.Retryable {
		if err := c.queue.SetWithExpiry(ctx, resultKey(req.RequestID), string(data), c.cfg.ResultTTL); err != nil {
			return fmt.Errorf("failed to store result: %w", err)
		}
	}

	return c.reply(ctx, req, string(data))
}

func (c *ActivityRequestConsumer) replay(ctx context.Context, req Request, stored string) error {
	var reply Reply
	if err := json.Unmarshal([]byte(stored), &reply); err != nil {
		return fmt.Errorf("failed to decode stored result: %w", err)
	}
	reply.Replayed = true

	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	return c.reply(ctx, req, string(data))
}

func (c *ActivityRequestConsumer) reply(ctx context.Context, req Request, data string) error {
	if req.ReplyTo == "" {
		return nil
	}
	if err := c.queue.PushWithExpiry(ctx, req.ReplyTo, data, c.cfg.ResultTTL); err != nil {
		return fmt.Errorf("failed to push reply: %w", err)
	}
	return nil
}
