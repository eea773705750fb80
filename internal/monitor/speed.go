package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/drivewatch/drivewatch/internal/alerts"
	"github.com/drivewatch/drivewatch/internal/cache"
	"github.com/drivewatch/drivewatch/internal/config"
	"github.com/drivewatch/drivewatch/internal/lib/geo"
)

// LimitSource looks up the posted speed limit near a coordinate. Satisfied
// by overpass.Client.
type LimitSource interface {
	SpeedLimit(ctx context.Context, lat, lon, radiusMeters float64) (*float64, error)
}

// limitEntry wraps the nullable limit for cache serialization.
type limitEntry struct {
	Mph *float64 `json:"mph"`
}

// SpeedMonitor estimates vehicle speed from position updates and compares
// it against the posted limit near the current location. It runs
// independently of the capture loop; the two may be active concurrently.
type SpeedMonitor struct {
	source     PositionSource
	limits     LimitSource
	dispatcher *alerts.Dispatcher
	cache      *cache.Cache
	cfg        config.SpeedConfig
	logger     *zap.SugaredLogger
	now        func() time.Time

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	last       *PositionUpdate
	currentMph float64
	limitMph   *float64
	lastLookup time.Time
}

// NewSpeedMonitor creates a speed monitor. It does nothing until Start.
func NewSpeedMonitor(source PositionSource, limits LimitSource, dispatcher *alerts.Dispatcher,
	limitCache *cache.Cache, cfg config.SpeedConfig, logger *zap.SugaredLogger) *SpeedMonitor {
	return &SpeedMonitor{
		source:     source,
		limits:     limits,
		dispatcher: dispatcher,
		cache:      limitCache,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Start subscribes to position updates. A failed subscription surfaces as
// *PermissionError.
func (m *SpeedMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("speed monitoring already active")
	}
	m.running = true
	m.mu.Unlock()

	updates, err := m.source.Subscribe(ctx)
	if err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return &PermissionError{Resource: "geolocation", Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx, updates)

	m.logger.Infow("Speed monitoring started",
		"limit_refresh", m.cfg.LimitRefreshInterval, "search_radius_m", m.cfg.LimitSearchRadius)
	return nil
}

// Stop cancels the update consumer and clears tracked state.
func (m *SpeedMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.last = nil
	m.currentMph = 0
	m.limitMph = nil
	m.lastLookup = time.Time{}
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.logger.Infow("Speed monitoring stopped")
}

// CurrentSpeedMph returns the latest speed estimate.
func (m *SpeedMonitor) CurrentSpeedMph() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentMph
}

// CurrentLimitMph returns the known posted limit, or nil when unknown.
func (m *SpeedMonitor) CurrentLimitMph() *float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitMph
}

func (m *SpeedMonitor) run(ctx context.Context, updates <-chan PositionUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			m.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate folds one position fix into the speed estimate, refreshes
// the limit when due, and raises the overspeed alert when the estimate
// strictly exceeds a known limit.
func (m *SpeedMonitor) handleUpdate(ctx context.Context, update PositionUpdate) {
	m.mu.Lock()
	switch {
	case update.SpeedMps != nil:
		mph := geo.MpsToMph(*update.SpeedMps)
		if mph < 0 {
			mph = 0
		}
		m.currentMph = mph
	case m.last != nil:
		elapsed := update.Timestamp.Sub(m.last.Timestamp)
		if elapsed > 0 {
			distance, err := geo.DistanceFromCoords(
				m.last.Latitude, m.last.Longitude, update.Latitude, update.Longitude)
			if err == nil {
				m.currentMph = geo.MpsToMph(distance / elapsed.Seconds())
			}
		}
		// Non-positive elapsed time: out-of-order fix, keep the previous
		// estimate.
	}
	m.last = &update
	speed := m.currentMph
	m.mu.Unlock()

	m.maybeRefreshLimit(ctx, update)

	m.mu.Lock()
	limit := m.limitMph
	m.mu.Unlock()

	if limit != nil && speed > *limit {
		m.dispatcher.DispatchOverspeed(ctx, speed, *limit)
	}
}

// maybeRefreshLimit queries the map source at most once per refresh
// interval, or immediately when no limit has ever been looked up. Lookup
// failures are swallowed and the previous limit retained.
func (m *SpeedMonitor) maybeRefreshLimit(ctx context.Context, update PositionUpdate) {
	m.mu.Lock()
	firstLookup := m.lastLookup.IsZero()
	due := firstLookup || m.now().Sub(m.lastLookup) >= m.cfg.LimitRefreshInterval
	if !due {
		m.mu.Unlock()
		return
	}
	m.lastLookup = m.now()
	m.mu.Unlock()

	// A coarse coordinate cell (~100m) keys the cache so a slow-moving
	// vehicle reuses recent lookups.
	key := fmt.Sprintf("maxspeed:%.3f:%.3f", update.Latitude, update.Longitude)

	var entry limitEntry
	if found, err := m.cache.Get(key, &entry); err == nil && found {
		m.mu.Lock()
		m.limitMph = entry.Mph
		m.mu.Unlock()
		return
	}

	limit, err := m.limits.SpeedLimit(ctx, update.Latitude, update.Longitude, m.cfg.LimitSearchRadius)
	if err != nil {
		m.logger.Warnw("Speed limit lookup failed; keeping previous limit", "error", err)
		return
	}

	if err := m.cache.Set(key, limitEntry{Mph: limit}, m.cfg.LimitRefreshInterval, "overpass"); err != nil {
		m.logger.Debugw("Failed to cache speed limit", "error", err)
	}

	m.mu.Lock()
	m.limitMph = limit
	m.mu.Unlock()

	if limit != nil {
		m.logger.Infow("Posted speed limit updated", "limit_mph", *limit)
	} else {
		m.logger.Infow("No posted speed limit found nearby")
	}
}
