package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
)

const (
	// DefaultPollInterval is how often a pending payment is checked.
	DefaultPollInterval = 5 * time.Second
	finalizeTimeout     = 30 * time.Second
)

// FinalizeFunc applies a terminal gateway status to the record behind merchantRef.
type FinalizeFunc func(ctx context.Context, merchantRef, trackingID string, status models.PaymentStatus) error

// Poller checks one payment on a ticker until it completes, fails, times out or is stopped.
// There is no retry cap: lookup errors are reported and the next tick tries again.
type Poller struct {
	trackingID  string
	merchantRef string
	gateway     Gateway
	finalize    FinalizeFunc
	bus         StatusBus
	interval    time.Duration
	timeout     time.Duration
	logger      *zap.Logger
	onExit      func(*Poller)
	release     func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	checkCh chan struct{}
	stopped bool
}

// PollerConfig holds the shared settings of every poller.
type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration // 0 polls until completion or Stop
}

// NewPoller creates a poller for one tracking id.
func NewPoller(trackingID, merchantRef string, gateway Gateway, finalize FinalizeFunc, bus StatusBus, cfg PollerConfig, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewMemoryBus()
	}
	return &Poller{
		trackingID:  trackingID,
		merchantRef: merchantRef,
		gateway:     gateway,
		finalize:    finalize,
		bus:         bus,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		logger:      logger.With(zap.String("order_tracking_id", trackingID), zap.String("merchant_reference", merchantRef)),
		done:        make(chan struct{}),
		checkCh:     make(chan struct{}, 1),
	}
}

// Start begins polling. Calling Start twice has no effect.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), p.timeout)
	}
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(ctx)
	p.logger.Info("payment poller started", zap.Duration("interval", p.interval), zap.Duration("timeout", p.timeout))
}

// Stop cancels polling and waits for the loop to exit. An in-flight lookup is cancelled
// and its result, if it still arrives, is dropped.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cancel()
	p.mu.Unlock()
	<-p.done
}

// CheckNow asks the loop for an immediate check, without waiting for the next tick.
func (p *Poller) CheckNow() {
	select {
	case p.checkCh <- struct{}{}:
	default:
	}
}

// Done is closed when the loop exits.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// MerchantReference is the reference the poller finalizes against.
func (p *Poller) MerchantReference() string {
	return p.merchantRef
}

func (p *Poller) run(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.cancel()
		stopped := p.stopped
		p.mu.Unlock()
		switch {
		case stopped:
			p.publish(StatusEvent{Stage: StageStopped})
			p.logger.Info("payment poller stopped")
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			p.publish(StatusEvent{Stage: StageTimeout, Message: "payment was not confirmed in time"})
			p.logger.Warn("payment poller timed out")
		}
		if p.onExit != nil {
			p.onExit(p)
		}
		close(p.done)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.checkCh:
		case <-ticker.C:
		}
		if p.check(ctx) {
			return
		}
	}
}

// check runs one status lookup and reports whether polling is over.
func (p *Poller) check(ctx context.Context) bool {
	status, err := p.gateway.Status(ctx, p.trackingID)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		p.logger.Warn("payment status check failed", zap.Error(err))
		p.publish(StatusEvent{Stage: StageError, Message: err.Error()})
		return false
	}
	p.publish(StatusEvent{Stage: StageStatus, Status: status})
	if !status.Terminal() {
		return false
	}

	// The gateway has settled; finish recording it even if Stop races with us.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := p.finalize(fctx, p.merchantRef, p.trackingID, status); err != nil {
		p.logger.Error("payment finalization failed", zap.Error(err), zap.String("status", string(status)))
		p.publish(StatusEvent{Stage: StageFinalizationFailed, Status: status, Message: err.Error()})
		return true
	}
	p.logger.Info("payment finalized", zap.String("status", string(status)))
	p.publish(StatusEvent{Stage: StageFinalized, Status: status})
	return true
}

func (p *Poller) publish(ev StatusEvent) {
	ev.TrackingID = p.trackingID
	ev.MerchantReference = p.merchantRef
	ev.At = time.Now().UTC()
	if err := p.bus.Publish(context.Background(), ev); err != nil {
		p.logger.Warn("publish status event", zap.Error(err))
	}
}
