package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
)

// Stages of a status event.
const (
	StageStatus             = "status"
	StageFinalized          = "finalized"
	StageFinalizationFailed = "finalization_failed"
	StageError              = "error"
	StageTimeout            = "timeout"
	StageStopped            = "stopped"
	// StageStopRequested asks every instance to stop polling the tracking id. It is a
	// control message and is not forwarded to watchers.
	StageStopRequested = "stop_requested"
)

// StatusEvent is one observation about a payment, streamed to watchers.
type StatusEvent struct {
	TrackingID        string               `json:"order_tracking_id"`
	MerchantReference string               `json:"merchant_reference,omitempty"`
	Stage             string               `json:"stage"`
	Status            models.PaymentStatus `json:"status,omitempty"`
	Message           string               `json:"message,omitempty"`
	At                time.Time            `json:"at"`
}

// Terminal reports whether no further events follow for this payment.
func (e StatusEvent) Terminal() bool {
	switch e.Stage {
	case StageFinalized, StageFinalizationFailed, StageTimeout, StageStopped:
		return true
	}
	return false
}

// StatusBus fans status events out to watchers of a tracking id.
type StatusBus interface {
	Publish(ctx context.Context, ev StatusEvent) error
	Subscribe(trackingID string, fn func(StatusEvent)) (cancel func(), err error)
}

// MemoryBus is an in-process StatusBus for single-instance deployments and tests.
type MemoryBus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func(StatusEvent)
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]func(StatusEvent))}
}

// Publish delivers ev synchronously to current subscribers.
func (b *MemoryBus) Publish(_ context.Context, ev StatusEvent) error {
	b.mu.RLock()
	fns := make([]func(StatusEvent), 0, len(b.subs[ev.TrackingID]))
	for _, fn := range b.subs[ev.TrackingID] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Subscribe registers fn for trackingID.
func (b *MemoryBus) Subscribe(trackingID string, fn func(StatusEvent)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.subs[trackingID] == nil {
		b.subs[trackingID] = make(map[int]func(StatusEvent))
	}
	b.subs[trackingID][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[trackingID], id)
		if len(b.subs[trackingID]) == 0 {
			delete(b.subs, trackingID)
		}
	}, nil
}

const (
	channelPrefix  = "payments:"
	publishTimeout = 5 * time.Second
)

// RedisBus fans status events across API instances with Redis pub/sub, so a websocket
// served by one instance sees polls run by another.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus creates a Redis-backed bus.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, logger: logger}
}

// Publish sends ev to the tracking id's channel.
func (r *RedisBus) Publish(ctx context.Context, ev StatusEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+ev.TrackingID, body).Err()
}

// Subscribe listens on the tracking id's channel until cancel is called.
func (r *RedisBus) Subscribe(trackingID string, fn func(StatusEvent)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channelPrefix+trackingID)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn("invalid status event", zap.Error(err))
					continue
				}
				fn(ev)
			}
		}
	}()
	return cancelCtx, nil
}
