// Package journal implements the Sensor Journal (C4): a ring-buffered
// per-device state history with periodic atomic disk sync and LRU sensor
// eviction.
package journal

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/models"
)

// Config bounds the journal's memory footprint and sync cadence.
type Config struct {
	LogFile            string
	MaxEventsPerSensor int
	MaxSensors         int
	SyncInterval       time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxEventsPerSensor <= 0 {
		c.MaxEventsPerSensor = 100
	}
	if c.MaxSensors <= 0 {
		c.MaxSensors = 1000
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
}

// Stats summarizes the journal's current occupancy.
type Stats struct {
	SensorCount    int
	PendingChanges int
	LastSync       time.Time
}

// Journal owns every SensorHistory exclusively. A single writer lock
// serializes Record calls, which also keeps per-sensor events
// timestamp-monotonic; the background sync task takes the read side to
// snapshot the registry, cheap enough at this size that writers are not
// held across serialization.
type Journal struct {
	cfg Config
	log zerolog.Logger

	mu             sync.RWMutex
	histories      map[string]*models.SensorHistory
	pendingChanges int
	lastSync       time.Time

	entropy *ulid.MonotonicEntropy
	stopCh  chan struct{}
}

// New constructs a Journal. Call LoadFromDisk to restore a prior snapshot,
// and StartSync to begin the periodic persistence task.
func New(cfg Config) *Journal {
	cfg.applyDefaults()
	return &Journal{
		cfg:       cfg,
		log:       logging.Component("journal"),
		histories: make(map[string]*models.SensorHistory),
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		stopCh:    make(chan struct{}),
	}
}

// LoadFromDisk restores a previously persisted snapshot. A missing file is
// not an error — the journal simply starts empty.
func (j *Journal) LoadFromDisk() error {
	data, err := os.ReadFile(j.cfg.LogFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read journal file: %w", err)
	}

	var stored map[string]*models.SensorHistory
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode journal file: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.histories = stored
	return nil
}

// Record appends one observed state transition for uuid. Equal old/new
// values are a no-op; an unknown sensor at capacity evicts the
// least-recently-updated one first.
func (j *Journal) Record(uuid string, old, newVal interface{}, name, sensorType, room string) {
	if old == newVal {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	hist, known := j.histories[uuid]
	if !known {
		if len(j.histories) >= j.cfg.MaxSensors {
			j.evictLRULocked()
		}
		hist = &models.SensorHistory{
			UUID:       uuid,
			Name:       name,
			SensorType: sensorType,
			RoomUUID:   room,
			FirstSeen:  now,
		}
		j.histories[uuid] = hist
	}

	eventType := models.EventStateChange
	if !known {
		eventType = models.EventFirstSeen
	}

	event := models.StateChangeEvent{
		ID:            j.nextID(),
		UUID:          uuid,
		Timestamp:     now,
		OldValue:      old,
		NewValue:      newVal,
		HumanReadable: humanReadable(sensorType, newVal),
		EventType:     eventType,
	}

	hist.Events = append(hist.Events, event)
	if len(hist.Events) > j.cfg.MaxEventsPerSensor {
		hist.Events = hist.Events[len(hist.Events)-j.cfg.MaxEventsPerSensor:]
	}
	hist.CurrentState = newVal
	hist.LastUpdated = now
	hist.TotalChanges++
	j.pendingChanges++
}

func (j *Journal) nextID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), j.entropy).String()
}

// evictLRULocked removes the sensor with the oldest LastUpdated. Callers
// must hold j.mu.
func (j *Journal) evictLRULocked() {
	var oldestUUID string
	var oldest time.Time
	first := true
	for uuid, hist := range j.histories {
		if first || hist.LastUpdated.Before(oldest) {
			oldestUUID = uuid
			oldest = hist.LastUpdated
			first = false
		}
	}
	if oldestUUID != "" {
		delete(j.histories, oldestUUID)
	}
}

func humanReadable(sensorType string, value interface{}) string {
	switch sensorType {
	case "door_window":
		if nonZero(value) {
			return "OPEN"
		}
		return "CLOSED"
	case "motion":
		if nonZero(value) {
			return "MOTION"
		}
		return "IDLE"
	default:
		return fmt.Sprintf("%v", value)
	}
}

func nonZero(v interface{}) bool {
	switch n := v.(type) {
	case float64:
		return n != 0
	case float32:
		return n != 0
	case int:
		return n != 0
	case bool:
		return n
	case string:
		return n != "" && n != "0"
	}
	return v != nil
}

// History returns a copy of the sensor's history, if known.
func (j *Journal) History(uuid string) (models.SensorHistory, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	hist, ok := j.histories[uuid]
	if !ok {
		return models.SensorHistory{}, false
	}
	return *hist, true
}

// RecentAcrossAll merges every sensor's events, sorts by timestamp
// descending, and truncates to limit.
func (j *Journal) RecentAcrossAll(limit int) []models.StateChangeEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var all []models.StateChangeEvent
	for _, hist := range j.histories {
		all = append(all, hist.Events...)
	}
	sort.Slice(all, func(i, k int) bool {
		return all[i].Timestamp.After(all[k].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// DoorWindowActivity reports per-door open/close counts within the last
// `hours` hours.
func (j *Journal) DoorWindowActivity(hours int) map[string]struct{ Opens, Closes int } {
	j.mu.RLock()
	defer j.mu.RUnlock()

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	result := make(map[string]struct{ Opens, Closes int })
	for uuid, hist := range j.histories {
		if hist.SensorType != "door_window" {
			continue
		}
		var counts struct{ Opens, Closes int }
		for _, e := range hist.Events {
			if e.Timestamp.Before(cutoff) {
				continue
			}
			if e.HumanReadable == "OPEN" {
				counts.Opens++
			} else if e.HumanReadable == "CLOSED" {
				counts.Closes++
			}
		}
		if counts.Opens > 0 || counts.Closes > 0 {
			result[uuid] = counts
		}
	}
	return result
}

// Stats reports journal occupancy and sync status.
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Stats{
		SensorCount:    len(j.histories),
		PendingChanges: j.pendingChanges,
		LastSync:       j.lastSync,
	}
}

// Sync persists the registry if there are pending changes, writing a
// sibling temp file and renaming it over the log file so readers never
// observe a torn write.
func (j *Journal) Sync() error {
	j.mu.RLock()
	if j.pendingChanges == 0 {
		j.mu.RUnlock()
		return nil
	}
	snapshot := make(map[string]*models.SensorHistory, len(j.histories))
	for uuid, hist := range j.histories {
		cp := *hist
		snapshot[uuid] = &cp
	}
	j.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal journal snapshot: %w", err)
	}

	dir := filepath.Dir(j.cfg.LogFile)
	tmp, err := os.CreateTemp(dir, ".journal-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp journal file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp journal file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp journal file: %w", err)
	}
	if err := os.Rename(tmpName, j.cfg.LogFile); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp journal file: %w", err)
	}

	j.mu.Lock()
	j.pendingChanges = 0
	j.lastSync = time.Now()
	j.mu.Unlock()
	return nil
}

// StartSync runs the periodic sync task until Stop is called.
func (j *Journal) StartSync() {
	go func() {
		ticker := time.NewTicker(j.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stopCh:
				return
			case <-ticker.C:
				if err := j.Sync(); err != nil {
					j.log.Warn().Err(err).Msg("journal sync failed")
				}
			}
		}
	}()
}

// Stop halts the background sync task. It does not perform a final sync;
// callers that need a clean shutdown should call Sync explicitly first.
func (j *Journal) Stop() {
	close(j.stopCh)
}
