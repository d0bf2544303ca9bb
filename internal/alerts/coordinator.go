// Package alerts maintains the set of currently active alerts by polling
// the Oref feeds and fanning snapshots out to listeners.
package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"orefalert/internal/observability"
	"orefalert/internal/oref"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval matches the cadence of the official client.
	DefaultPollInterval = 2 * time.Second

	// DefaultActiveDuration is how long a history entry stays active.
	DefaultActiveDuration = 10 * time.Minute

	// After this many consecutive poll failures the coordinator reports
	// not-ready and escalates log level.
	maxConsecutiveFailures = 5

	syntheticTitle = "התרעה סינתטית"
)

// Fetcher is the slice of the feed client the coordinator needs.
type Fetcher interface {
	FetchRealTime(ctx context.Context) (*oref.RealTimeMessage, error)
	FetchHistory(ctx context.Context) ([]oref.Alert, error)
}

// Snapshot is one immutable view of the active alerts: newest first, one
// entry per area.
type Snapshot struct {
	Alerts    []oref.Alert
	UpdatedAt time.Time
}

// FirstFor returns the newest alert for an area.
func (s Snapshot) FirstFor(area string) (oref.Alert, bool) {
	for _, alert := range s.Alerts {
		if alert.Area == area {
			return alert, true
		}
	}
	return oref.Alert{}, false
}

// Listener is notified after every snapshot rebuild, including rebuilds that
// changed nothing. Listeners diff against their own state.
type Listener func(Snapshot)

type syntheticAlert struct {
	alert     oref.Alert
	expiresAt time.Time
}

// Coordinator polls the feeds and publishes active-alert snapshots.
type Coordinator struct {
	fetcher Fetcher
	logger  *zap.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock

	pollInterval   time.Duration
	activeDuration time.Duration

	mu         sync.RWMutex
	feedAlerts []oref.Alert
	synthetic  []syntheticAlert
	snapshot   Snapshot
	listeners  []Listener

	hadSuccess          bool
	consecutiveFailures int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator. Non-positive intervals select the
// defaults.
func NewCoordinator(fetcher Fetcher, pollInterval, activeDuration time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if activeDuration <= 0 {
		activeDuration = DefaultActiveDuration
	}
	return &Coordinator{
		fetcher:        fetcher,
		logger:         logger.Named("alerts"),
		metrics:        metrics,
		clock:          clockwork.NewRealClock(),
		pollInterval:   pollInterval,
		activeDuration: activeDuration,
	}
}

// SetClock sets the clock implementation (useful for testing).
func (c *Coordinator) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// AddListener registers a listener for snapshot updates. Must be called
// before Start.
func (c *Coordinator) AddListener(listener Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// Snapshot returns the latest snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Ready reports whether at least one poll succeeded and the feed is not in a
// failure streak.
func (c *Coordinator) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hadSuccess && c.consecutiveFailures < maxConsecutiveFailures
}

// Start launches the poll loop. The first poll runs immediately so entities
// reconcile at startup rather than one interval later.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop halts the poll loop and waits for it to finish.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	c.poll(ctx)
	ticker := c.clock.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.poll(ctx)
		}
	}
}

// InjectSynthetic adds an alert that stays active for the given duration
// regardless of the feeds.
func (c *Coordinator) InjectSynthetic(area string, duration time.Duration) {
	now := c.clock.Now()
	c.mu.Lock()
	c.synthetic = append(c.synthetic, syntheticAlert{
		alert: oref.Alert{
			Area:  area,
			Title: syntheticTitle,
			Date:  now.In(oref.Israel),
		},
		expiresAt: now.Add(duration),
	})
	snapshot := c.rebuildLocked(now)
	c.mu.Unlock()

	c.metrics.SyntheticAlerts.Inc()
	c.logger.Info("Injected synthetic alert",
		zap.String("area", area),
		zap.Duration("duration", duration))
	c.notify(snapshot)
}

func (c *Coordinator) poll(ctx context.Context) {
	start := c.clock.Now()
	realTime, rtErr := c.fetcher.FetchRealTime(ctx)
	history, histErr := c.fetcher.FetchHistory(ctx)
	c.metrics.PollDuration.Observe(c.clock.Since(start).Seconds())

	now := c.clock.Now()
	c.mu.Lock()
	if rtErr != nil || histErr != nil {
		// Keep serving the previous feed data; rebuilding still re-ages
		// it so stale alerts expire during an outage.
		c.consecutiveFailures++
		c.metrics.PollsTotal.WithLabelValues("failure").Inc()
		c.logFetchErrors(rtErr, histErr)
	} else {
		c.feedAlerts = mergeFeeds(realTime, history, now)
		c.hadSuccess = true
		c.consecutiveFailures = 0
		c.metrics.PollsTotal.WithLabelValues("success").Inc()
	}
	snapshot := c.rebuildLocked(now)
	c.mu.Unlock()

	c.notify(snapshot)
}

// mergeFeeds expands the real-time broadcast to per-area alerts stamped with
// the poll time and appends the history entries after it, so the newest-wins
// dedupe in rebuild prefers real-time data.
func mergeFeeds(realTime *oref.RealTimeMessage, history []oref.Alert, now time.Time) []oref.Alert {
	merged := make([]oref.Alert, 0, len(history)+8)
	if realTime != nil {
		for _, area := range realTime.Areas {
			merged = append(merged, oref.Alert{
				Area:     area,
				Title:    realTime.Title,
				Category: realTime.Category,
				Date:     now.In(oref.Israel),
			})
		}
	}
	merged = append(merged, history...)
	return merged
}

// rebuildLocked recomputes the snapshot from the cached feed data and the
// synthetic alerts. Callers hold c.mu.
func (c *Coordinator) rebuildLocked(now time.Time) Snapshot {
	cutoff := now.Add(-c.activeDuration)

	combined := make([]oref.Alert, 0, len(c.feedAlerts)+len(c.synthetic))
	for _, alert := range c.feedAlerts {
		if alert.Date.After(cutoff) {
			combined = append(combined, alert)
		}
	}
	unexpired := c.synthetic[:0]
	for _, s := range c.synthetic {
		if s.expiresAt.After(now) {
			unexpired = append(unexpired, s)
			combined = append(combined, s.alert)
		}
	}
	c.synthetic = unexpired

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Date.After(combined[j].Date)
	})
	alerts := combined[:0]
	seen := make(map[string]bool, len(combined))
	for _, alert := range combined {
		if seen[alert.Area] {
			continue
		}
		seen[alert.Area] = true
		alerts = append(alerts, alert)
	}

	c.snapshot = Snapshot{Alerts: alerts, UpdatedAt: now}
	c.metrics.ActiveAlerts.Set(float64(len(alerts)))
	return c.snapshot
}

func (c *Coordinator) notify(snapshot Snapshot) {
	c.mu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}

func (c *Coordinator) logFetchErrors(rtErr, histErr error) {
	log := c.logger.Warn
	if c.consecutiveFailures >= maxConsecutiveFailures {
		log = c.logger.Error
	}
	if rtErr != nil {
		log("Real-time fetch failed",
			zap.Error(rtErr),
			zap.Int("consecutive_failures", c.consecutiveFailures))
	}
	if histErr != nil {
		log("History fetch failed",
			zap.Error(histErr),
			zap.Int("consecutive_failures", c.consecutiveFailures))
	}
}
