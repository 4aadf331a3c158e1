package tenant

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// StatusListener receives tenant-status-change signals. The metadata
// cache implements it to invalidate entries synchronously with the
// change, before any acknowledgement, so no reader can observe a stale
// "active" status afterwards.
type StatusListener interface {
	TenantStatusChanged(ctx context.Context, tenantID string)
}

// StatusFeed publishes tenant-status-change signals to its listeners.
type StatusFeed interface {
	// Subscribe registers a listener for future signals.
	Subscribe(listener StatusListener)

	// Publish announces that the tenant's status changed. The call does
	// not return until all local listeners have been notified.
	Publish(ctx context.Context, tenantID string) error
}

// LocalStatusFeed is an in-process StatusFeed: Publish notifies every
// listener synchronously. It serves single-process deployments and tests;
// multi-process deployments layer RedisStatusFeed on top of it.
type LocalStatusFeed struct {
	mu        sync.RWMutex
	listeners []StatusListener
}

// NewLocalStatusFeed creates an empty LocalStatusFeed.
func NewLocalStatusFeed() *LocalStatusFeed {
	return &LocalStatusFeed{}
}

// Subscribe registers a listener for future signals.
func (f *LocalStatusFeed) Subscribe(listener StatusListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, listener)
}

// Publish notifies every registered listener synchronously.
func (f *LocalStatusFeed) Publish(ctx context.Context, tenantID string) error {
	f.mu.RLock()
	listeners := make([]StatusListener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.RUnlock()

	for _, l := range listeners {
		l.TenantStatusChanged(ctx, tenantID)
	}
	return nil
}

// RedisStatusFeed is a StatusFeed that carries signals across processes
// over a Redis pub/sub channel. Local listeners are still notified
// synchronously on Publish; the channel fans the signal out to the other
// processes' feeds.
type RedisStatusFeed struct {
	local   *LocalStatusFeed
	client  *redis.Client
	channel string
	logger  *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRedisStatusFeed creates a RedisStatusFeed over the given client and
// channel name.
func NewRedisStatusFeed(client *redis.Client, channel string, logger *slog.Logger) *RedisStatusFeed {
	return &RedisStatusFeed{
		local:   NewLocalStatusFeed(),
		client:  client,
		channel: channel,
		logger:  logger.With("component", "tenant_status_feed"),
		stopCh:  make(chan struct{}),
	}
}

// Subscribe registers a listener for future signals.
func (f *RedisStatusFeed) Subscribe(listener StatusListener) {
	f.local.Subscribe(listener)
}

// Publish notifies local listeners synchronously, then broadcasts the
// tenant ID on the Redis channel for other processes. Local invalidation
// never waits on Redis.
func (f *RedisStatusFeed) Publish(ctx context.Context, tenantID string) error {
	if err := f.local.Publish(ctx, tenantID); err != nil {
		return err
	}

	if err := f.client.Publish(ctx, f.channel, tenantID).Err(); err != nil {
		f.logger.Error("failed to broadcast tenant status change",
			"tenant_id", tenantID,
			"error", err)
		return err
	}
	return nil
}

// Start begins consuming remote signals from the Redis channel.
func (f *RedisStatusFeed) Start(ctx context.Context) {
	sub := f.client.Subscribe(ctx, f.channel)
	ch := sub.Channel()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if err := sub.Close(); err != nil {
				f.logger.Error("failed to close subscription", "error", err)
			}
		}()

		for {
			select {
			case <-f.stopCh:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				f.logger.Debug("received tenant status change",
					"tenant_id", msg.Payload)
				if err := f.local.Publish(ctx, msg.Payload); err != nil {
					f.logger.Error("failed to dispatch tenant status change",
						"tenant_id", msg.Payload,
						"error", err)
				}
			}
		}
	}()
}

// Stop shuts down the remote consumer and waits for it to finish.
func (f *RedisStatusFeed) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}
