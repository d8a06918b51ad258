package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamNames holds the three logical stream names.
type StreamNames struct {
	Domain    string
	Technical string
	Failed    string
}

// DefaultStreamNames returns the conventional stream layout.
func DefaultStreamNames() StreamNames {
	return StreamNames{
		Domain:    "events:domain",
		Technical: "events:technical",
		Failed:    "events:failed",
	}
}

// Message is one entry read from a stream.
type Message struct {
	ID     string
	Values map[string]any
}

// PendingEntry describes one delivered-but-unacknowledged message.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	RetryCount int64
}

// StreamSummary is the introspection view of a stream.
type StreamSummary struct {
	Name            string `json:"name"`
	Length          int64  `json:"length"`
	Groups          int64  `json:"groups"`
	LastGeneratedID string `json:"last_generated_id"`
}

// GroupSummary is the introspection view of a consumer group.
type GroupSummary struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// Broker is the surface the publisher and consumer need from the stream
// store. *Client implements it against Redis Streams; tests substitute an
// in-memory fake.
type Broker interface {
	Add(ctx context.Context, stream string, values map[string]any) (string, error)
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error)
	Pending(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error)
	CreateGroup(ctx context.Context, stream, group, startID string) (bool, error)
	DestroyGroup(ctx context.Context, stream, group string) error
}

// Options configure the broker connection.
type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Client wraps a Redis connection with the stream operations the bus uses.
// The connection handle is cached and shared; every call acquires it through
// withConn, which drops the handle on a connection-level error so the next
// call reconnects. The client itself never retries.
type Client struct {
	opts Options
	log  *slog.Logger

	mu  sync.Mutex
	rdb *redis.Client
}

// NewClient creates a client. No connection is made until the first call.
func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{opts: opts, log: log}
}

func (c *Client) conn(ctx context.Context) (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb != nil {
		return c.rdb, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        c.opts.Addr,
		Password:    c.opts.Password,
		DB:          c.opts.DB,
		DialTimeout: c.opts.DialTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: connect %s: %v", ErrConnectivity, c.opts.Addr, err)
	}
	c.log.Info("connected to broker", "addr", c.opts.Addr)
	c.rdb = rdb
	return rdb, nil
}

// invalidate drops the cached handle if it is still the one that failed.
func (c *Client) invalidate(rdb *redis.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == rdb {
		_ = c.rdb.Close()
		c.rdb = nil
	}
}

// withConn runs fn with a live connection, translating connection-level
// failures into ErrConnectivity and invalidating the handle.
func (c *Client) withConn(ctx context.Context, fn func(rdb *redis.Client) error) error {
	rdb, err := c.conn(ctx)
	if err != nil {
		return err
	}
	if err := fn(rdb); err != nil {
		if isConnError(err) {
			c.log.Error("broker connection error", "err", err)
			c.invalidate(rdb)
			return fmt.Errorf("%w: %v", ErrConnectivity, err)
		}
		return err
	}
	return nil
}

func isConnError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe")
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such key")
}

// CreateGroup creates a consumer group, creating the stream if needed.
// Returns false without error when the group already exists.
func (c *Client) CreateGroup(ctx context.Context, stream, group, startID string) (bool, error) {
	created := false
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		err := rdb.XGroupCreateMkStream(ctx, stream, group, startID).Err()
		if err != nil {
			if strings.Contains(err.Error(), "BUSYGROUP") {
				return nil
			}
			return fmt.Errorf("create group %q on %q: %w", group, stream, err)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		c.log.Info("created consumer group", "stream", stream, "group", group, "start_id", startID)
	}
	return created, nil
}

// DestroyGroup removes a consumer group. Missing stream or group is not an
// error; destroy-then-recreate must be idempotent.
func (c *Client) DestroyGroup(ctx context.Context, stream, group string) error {
	return c.withConn(ctx, func(rdb *redis.Client) error {
		err := rdb.XGroupDestroy(ctx, stream, group).Err()
		if err != nil && !isNoSuchKey(err) {
			return fmt.Errorf("destroy group %q on %q: %w", group, stream, err)
		}
		return nil
	})
}

// StreamInfo returns stream introspection data, or ErrNotFound when the
// stream does not exist.
func (c *Client) StreamInfo(ctx context.Context, stream string) (*StreamSummary, error) {
	var out *StreamSummary
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		info, err := rdb.XInfoStream(ctx, stream).Result()
		if err != nil {
			if isNoSuchKey(err) {
				return fmt.Errorf("%w: stream %q", ErrNotFound, stream)
			}
			return fmt.Errorf("stream info %q: %w", stream, err)
		}
		out = &StreamSummary{
			Name:            stream,
			Length:          info.Length,
			Groups:          info.Groups,
			LastGeneratedID: info.LastGeneratedID,
		}
		return nil
	})
	return out, err
}

// GroupInfo returns consumer-group introspection data, or ErrNotFound when
// either the stream or the group does not exist.
func (c *Client) GroupInfo(ctx context.Context, stream, group string) (*GroupSummary, error) {
	var out *GroupSummary
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		groups, err := rdb.XInfoGroups(ctx, stream).Result()
		if err != nil {
			if isNoSuchKey(err) {
				return fmt.Errorf("%w: stream %q", ErrNotFound, stream)
			}
			return fmt.Errorf("group info %q on %q: %w", group, stream, err)
		}
		for _, g := range groups {
			if g.Name == group {
				out = &GroupSummary{
					Name:            g.Name,
					Consumers:       g.Consumers,
					Pending:         g.Pending,
					LastDeliveredID: g.LastDeliveredID,
				}
				return nil
			}
		}
		return fmt.Errorf("%w: group %q on stream %q", ErrNotFound, group, stream)
	})
	return out, err
}

// Pending lists up to count delivered-but-unacknowledged messages.
func (c *Client) Pending(ctx context.Context, stream, group string, count int64) ([]PendingEntry, error) {
	var out []PendingEntry
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		pending, err := rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  group,
			Start:  "-",
			End:    "+",
			Count:  count,
		}).Result()
		if err != nil {
			if isNoSuchKey(err) {
				return fmt.Errorf("%w: stream %q", ErrNotFound, stream)
			}
			return fmt.Errorf("pending %q on %q: %w", group, stream, err)
		}
		for _, p := range pending {
			out = append(out, PendingEntry{
				ID:         p.ID,
				Consumer:   p.Consumer,
				Idle:       p.Idle,
				RetryCount: p.RetryCount,
			})
		}
		return nil
	})
	return out, err
}

// Add appends a field map to a stream and returns the assigned message ID.
func (c *Client) Add(ctx context.Context, stream string, values map[string]any) (string, error) {
	var id string
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		var err error
		id, err = rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
		if err != nil {
			return fmt.Errorf("append to %q: %w", stream, err)
		}
		return nil
	})
	return id, err
}

// ReadGroup performs one blocking group read. A block timeout with no
// messages returns an empty slice, not an error.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	var out []Message
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		streams, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    count,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return fmt.Errorf("read group %q on %q: %w", group, stream, err)
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				out = append(out, Message{ID: m.ID, Values: m.Values})
			}
		}
		return nil
	})
	return out, err
}

// Ack acknowledges messages in a consumer group.
func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return c.withConn(ctx, func(rdb *redis.Client) error {
		if err := rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
			return fmt.Errorf("ack %v on %q: %w", ids, stream, err)
		}
		return nil
	})
}

// Claim reassigns the given pending messages to consumer if they have been
// idle for at least minIdle.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	var out []Message
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		msgs, err := rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Messages: ids,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("claim %v on %q: %w", ids, stream, err)
		}
		for _, m := range msgs {
			out = append(out, Message{ID: m.ID, Values: m.Values})
		}
		return nil
	})
	return out, err
}

// Range returns up to count entries of a stream, newest first. Used by the
// admin surface to inspect the failed stream.
func (c *Client) Range(ctx context.Context, stream string, count int64) ([]Message, error) {
	var out []Message
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		msgs, err := rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
		if err != nil {
			return fmt.Errorf("range %q: %w", stream, err)
		}
		for _, m := range msgs {
			out = append(out, Message{ID: m.ID, Values: m.Values})
		}
		return nil
	})
	return out, err
}

// Get fetches a single entry by ID, or ErrNotFound.
func (c *Client) Get(ctx context.Context, stream, id string) (*Message, error) {
	var out *Message
	err := c.withConn(ctx, func(rdb *redis.Client) error {
		msgs, err := rdb.XRange(ctx, stream, id, id).Result()
		if err != nil {
			return fmt.Errorf("get %s from %q: %w", id, stream, err)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("%w: message %s in stream %q", ErrNotFound, id, stream)
		}
		out = &Message{ID: msgs[0].ID, Values: msgs[0].Values}
		return nil
	})
	return out, err
}

// Delete removes entries from a stream.
func (c *Client) Delete(ctx context.Context, stream string, ids ...string) error {
	return c.withConn(ctx, func(rdb *redis.Client) error {
		if err := rdb.XDel(ctx, stream, ids...).Err(); err != nil {
			return fmt.Errorf("delete %v from %q: %w", ids, stream, err)
		}
		return nil
	})
}

// Ping verifies the connection end to end.
func (c *Client) Ping(ctx context.Context) error {
	return c.withConn(ctx, func(rdb *redis.Client) error {
		return rdb.Ping(ctx).Err()
	})
}

// Close releases the cached connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	return err
}
