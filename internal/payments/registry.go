package payments

import (
	"sync"

	"go.uber.org/zap"
)

// PollerRegistry holds the running poller of each tracking id.
type PollerRegistry struct {
	gateway  Gateway
	finalize FinalizeFunc
	bus      StatusBus
	cfg      PollerConfig
	logger   *zap.Logger

	mu      sync.RWMutex
	pollers map[string]*Poller
}

// NewPollerRegistry creates a registry whose pollers share gateway, finalizer and bus.
func NewPollerRegistry(gateway Gateway, finalize FinalizeFunc, bus StatusBus, cfg PollerConfig, logger *zap.Logger) *PollerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewMemoryBus()
	}
	return &PollerRegistry{
		gateway:  gateway,
		finalize: finalize,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		pollers:  make(map[string]*Poller),
	}
}

// Start starts polling trackingID unless a poller already runs for it.
// It reports whether a new poller was started. The poller also stops when any instance
// publishes a stop request for its tracking id.
func (reg *PollerRegistry) Start(trackingID, merchantRef string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.pollers[trackingID] != nil {
		return false
	}
	p := NewPoller(trackingID, merchantRef, reg.gateway, reg.finalize, reg.bus, reg.cfg, reg.logger)
	p.onExit = reg.remove
	release, err := reg.bus.Subscribe(trackingID, func(ev StatusEvent) {
		if ev.Stage == StageStopRequested {
			p.Stop()
		}
	})
	if err != nil {
		reg.logger.Warn("stop requests unavailable", zap.Error(err), zap.String("order_tracking_id", trackingID))
	} else {
		p.release = release
	}
	reg.pollers[trackingID] = p
	p.Start()
	return true
}

// remove drops p once its loop has exited, unless a newer poller replaced it.
func (reg *PollerRegistry) remove(p *Poller) {
	if p.release != nil {
		p.release()
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.pollers[p.trackingID] == p {
		delete(reg.pollers, p.trackingID)
	}
}

// Stop cancels polling for trackingID. It reports whether a poller was running.
func (reg *PollerRegistry) Stop(trackingID string) bool {
	reg.mu.RLock()
	p := reg.pollers[trackingID]
	reg.mu.RUnlock()
	if p == nil {
		return false
	}
	p.Stop()
	return true
}

// Get returns the running poller for trackingID, if any.
func (reg *PollerRegistry) Get(trackingID string) (*Poller, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	p, ok := reg.pollers[trackingID]
	return p, ok
}

// Running reports whether trackingID is being polled.
func (reg *PollerRegistry) Running(trackingID string) bool {
	_, ok := reg.Get(trackingID)
	return ok
}

// Len returns the number of running pollers.
func (reg *PollerRegistry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.pollers)
}

// StopAll stops every poller, for shutdown.
func (reg *PollerRegistry) StopAll() {
	reg.mu.RLock()
	list := make([]*Poller, 0, len(reg.pollers))
	for _, p := range reg.pollers {
		list = append(list, p)
	}
	reg.mu.RUnlock()
	for _, p := range list {
		p.Stop()
	}
	reg.logger.Info("payment pollers stopped", zap.Int("count", len(list)))
}
