package geoloc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"orefalert/internal/alerts"
	"orefalert/internal/ha"
	"orefalert/internal/metadata"
	"orefalert/internal/observability"
)

const (
	// DefaultRemovalDelay is how long an area must stay inactive before
	// its entity is removed. Alerts often flap off and back on within a
	// feed cycle; removing immediately would churn entities.
	DefaultRemovalDelay = 10 * time.Second

	entityDomain   = "geo_location."
	sourceValue    = "oref_alert"
	alertEventType = "oref_alert_event"

	requestTimeout = 10 * time.Second
)

// Manager reconciles geo_location entities in Home Assistant against
// the active alert snapshot. It is registered as a coordinator listener
// and re-runs the set difference on every refresh.
type Manager struct {
	client       ha.HAClient
	metrics      *observability.Metrics
	home         Coordinates
	logger       *zap.Logger
	readOnly     bool
	removalDelay time.Duration
	clock        clockwork.Clock

	mu          sync.Mutex
	tracked     map[string]*LocationEvent // keyed by area
	removing    map[string]bool           // areas inside a removal window
	latest      alerts.Snapshot
	warnedAreas map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new entity reconciler. home is the Home
// Assistant instance's configured location.
func NewManager(client ha.HAClient, metrics *observability.Metrics, home Coordinates, logger *zap.Logger, readOnly bool) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:       client,
		metrics:      metrics,
		home:         home,
		logger:       logger.Named("geoloc"),
		readOnly:     readOnly,
		removalDelay: DefaultRemovalDelay,
		clock:        clockwork.NewRealClock(),
		tracked:      make(map[string]*LocationEvent),
		removing:     make(map[string]bool),
		warnedAreas:  make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetClock replaces the clock (for testing)
func (m *Manager) SetClock(clock clockwork.Clock) {
	m.clock = clock
}

// SetRemovalDelay overrides the removal debounce window
func (m *Manager) SetRemovalDelay(d time.Duration) {
	m.removalDelay = d
}

// CleanStart removes every bridge-owned geo_location entity left over
// from a previous run. Run once at startup before the first reconcile.
func (m *Manager) CleanStart(ctx context.Context) error {
	states, err := m.client.GetAllStates()
	if err != nil {
		return fmt.Errorf("failed to list states: %w", err)
	}

	removed := 0
	for _, state := range states {
		if !strings.HasPrefix(state.EntityID, entityDomain) {
			continue
		}
		if source, _ := state.Attributes["source"].(string); source != sourceValue {
			continue
		}

		if m.readOnly {
			m.logger.Info("READ-ONLY: Would remove stale entity", zap.String("entity_id", state.EntityID))
			continue
		}

		if err := m.client.RemoveState(ctx, state.EntityID); err != nil {
			return fmt.Errorf("failed to remove %s: %w", state.EntityID, err)
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info("Removed stale alert entities", zap.Int("count", removed))
	}
	return nil
}

// HandleUpdate reconciles tracked entities against a fresh snapshot.
// Areas that went active gain an entity immediately; areas that went
// inactive enter a removal window and are re-checked when it expires.
func (m *Manager) HandleUpdate(snapshot alerts.Snapshot) {
	m.mu.Lock()
	m.latest = snapshot

	active := make(map[string]bool, len(snapshot.Alerts))
	for _, alert := range snapshot.Alerts {
		active[alert.Area] = true
	}

	var added []*LocationEvent
	for _, alert := range snapshot.Alerts {
		if _, ok := m.tracked[alert.Area]; ok {
			continue
		}

		info, ok := metadata.AreaInfo(alert.Area)
		if !ok {
			if !m.warnedAreas[alert.Area] {
				m.warnedAreas[alert.Area] = true
				m.logger.Warn("Alert area missing from metadata", zap.String("area", alert.Area))
			}
			m.metrics.EntityOps.WithLabelValues("skip_unknown").Inc()
			continue
		}

		event := NewLocationEvent(alert, info, m.home)
		m.tracked[alert.Area] = &event
		added = append(added, &event)
	}

	var stale []string
	for area := range m.tracked {
		if !active[area] && !m.removing[area] {
			m.removing[area] = true
			stale = append(stale, area)
		}
	}

	m.metrics.ActiveAlerts.Set(float64(len(active)))
	m.metrics.TrackedEntities.Set(float64(len(m.tracked)))
	m.mu.Unlock()

	for _, event := range added {
		if err := m.addEntity(event); err != nil {
			m.logger.Error("Failed to add alert entity",
				zap.String("area", event.Area),
				zap.Error(err))

			// Untrack so the next cycle retries the add
			m.mu.Lock()
			delete(m.tracked, event.Area)
			m.metrics.TrackedEntities.Set(float64(len(m.tracked)))
			m.mu.Unlock()
		}
	}

	if len(stale) > 0 {
		m.wg.Add(1)
		go m.removeAfterDelay(stale)
	}
}

// Tracked returns the currently tracked location events sorted by area
func (m *Manager) Tracked() []LocationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]LocationEvent, 0, len(m.tracked))
	for _, event := range m.tracked {
		events = append(events, *event)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Area < events[j].Area
	})
	return events
}

// Stop cancels outstanding removal windows and waits for them to exit
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// addEntity writes the entity state and fires the alert event
func (m *Manager) addEntity(event *LocationEvent) error {
	if m.readOnly {
		m.logger.Info("READ-ONLY: Would add alert entity",
			zap.String("entity_id", event.EntityID),
			zap.String("area", event.Area))
		return nil
	}

	ctx, cancel := context.WithTimeout(m.ctx, requestTimeout)
	defer cancel()

	if err := m.client.UpsertState(ctx, event.EntityID, event.State(), event.Attributes()); err != nil {
		return err
	}
	m.metrics.EntityOps.WithLabelValues("add").Inc()

	m.logger.Info("Added alert entity",
		zap.String("entity_id", event.EntityID),
		zap.String("area", event.Area),
		zap.Float64("distance_km", event.Distance))

	if err := m.client.FireEvent(alertEventType, event.EventData()); err != nil {
		m.logger.Warn("Failed to fire alert event",
			zap.String("area", event.Area),
			zap.Error(err))
	} else {
		m.metrics.EventsFired.Inc()
	}

	return nil
}

// removeAfterDelay waits out the debounce window, then removes the
// areas that are still inactive in the latest snapshot. An area that
// went active again keeps its original entity and unique ID.
func (m *Manager) removeAfterDelay(areas []string) {
	defer m.wg.Done()

	select {
	case <-m.clock.After(m.removalDelay):
	case <-m.ctx.Done():
		return
	}

	m.mu.Lock()
	active := make(map[string]bool, len(m.latest.Alerts))
	for _, alert := range m.latest.Alerts {
		active[alert.Area] = true
	}

	var remove []*LocationEvent
	for _, area := range areas {
		event, ok := m.tracked[area]
		if !ok {
			delete(m.removing, area)
			continue
		}
		if active[area] {
			delete(m.removing, area)
			m.logger.Debug("Alert active again, keeping entity", zap.String("area", area))
			continue
		}
		remove = append(remove, event)
	}
	m.mu.Unlock()

	for _, event := range remove {
		err := m.removeEntity(event)

		m.mu.Lock()
		delete(m.removing, event.Area)
		if err == nil {
			delete(m.tracked, event.Area)
		}
		m.metrics.TrackedEntities.Set(float64(len(m.tracked)))
		m.mu.Unlock()

		if err != nil {
			// Still tracked, so the next cycle opens a fresh window
			m.logger.Error("Failed to remove alert entity",
				zap.String("entity_id", event.EntityID),
				zap.Error(err))
		}
	}
}

// removeEntity deletes the entity state from Home Assistant
func (m *Manager) removeEntity(event *LocationEvent) error {
	if m.readOnly {
		m.logger.Info("READ-ONLY: Would remove alert entity",
			zap.String("entity_id", event.EntityID))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := m.client.RemoveState(ctx, event.EntityID); err != nil {
		return err
	}
	m.metrics.EntityOps.WithLabelValues("remove").Inc()

	m.logger.Info("Removed alert entity",
		zap.String("entity_id", event.EntityID),
		zap.String("area", event.Area))
	return nil
}
