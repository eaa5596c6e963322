// Package models holds the shared data types that flow between the control
// plane's components: devices and rooms owned by the structure cache,
// resolved values produced by the value resolver, sensor history owned by
// the sensor journal, and the small configuration structs the rate limiter
// and validation pipeline are built from.
package models

import "time"

// Category groups devices by the kind of fan-out command they accept.
type Category string

const (
	CategoryLighting Category = "lighting"
	CategoryBlinds   Category = "blinds"
	CategoryClimate  Category = "climate"
	CategorySensors  Category = "sensors"
	CategoryAudio    Category = "audio"
	CategorySecurity Category = "security"
	CategoryOther    Category = "other"
)

// Device is a controller-managed entity. Devices are created when the
// structure cache loads and mutated only by a cache reload; the values held
// in States are advisory, not canonical — canonical values are fetched on
// demand through the value resolver.
type Device struct {
	UUID       string
	Name       string
	DeviceType string
	Category   Category
	RoomUUID   string // empty if the device has no room
	States     map[string]interface{}
}

// Room cross-references devices via Device.RoomUUID.
type Room struct {
	UUID        string
	Name        string
	DeviceCount int
}

// ValueSource describes where a ResolvedValue's data came from.
type ValueSource string

const (
	SourceLive     ValueSource = "live"
	SourceCached   ValueSource = "cached"
	SourceInferred ValueSource = "inferred"
	SourceMissing  ValueSource = "missing"
)

// ResolvedValue is produced by the value resolver and never stored
// long-term; callers must treat Source other than live as advisory.
type ResolvedValue struct {
	NumericValue   *float64
	FormattedValue string
	Unit           string
	Confidence     float64
	Source         ValueSource
	Timestamp      time.Time
}

// EventType distinguishes a genuine transition from the first observation of
// a sensor the journal has never seen before.
type EventType string

const (
	EventStateChange EventType = "state_change"
	EventFirstSeen   EventType = "first_seen"
)

// StateChangeEvent is one entry in a SensorHistory's event ring.
type StateChangeEvent struct {
	ID             string // ULID, time-sortable
	UUID           string
	Timestamp      time.Time
	OldValue       interface{}
	NewValue       interface{}
	HumanReadable  string
	EventType      EventType
}

// SensorHistory is the sensor journal's per-device record. Invariant:
// len(Events) <= capacity and Events are timestamp-monotonic.
type SensorHistory struct {
	UUID         string
	Name         string
	SensorType   string
	RoomUUID     string
	FirstSeen    time.Time
	LastUpdated  time.Time
	TotalChanges int
	CurrentState interface{}
	Events       []StateChangeEvent
}

// CacheEntry is one Resource Cache slot.
type CacheEntry struct {
	Data      []byte
	MimeType  string
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is stale as of now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// RateLimitConfig configures a token bucket.
type RateLimitConfig struct {
	MaxRequests     int
	WindowDuration  time.Duration
	BurstSize       int
	CleanupInterval time.Duration
}

// ClientInfo identifies the caller of a request for validation/rate-limit
// purposes.
type ClientInfo struct {
	ID            string
	IP            string
	UserAgent     string
	AuthLevel     int
	RateLimitInfo map[string]interface{}
}

// ValidationContext carries the per-request data the validation pipeline
// needs in order to make scheme/auth/rate-limit decisions.
type ValidationContext struct {
	RequestID  string
	ClientInfo *ClientInfo
	Timestamp  time.Time
	Config     ValidationConfig
	Metadata   map[string]interface{}
}

// ValidationConfig bounds the sanitizer and security validators.
type ValidationConfig struct {
	MaxStringLength    int
	MaxArraySize       int
	MaxObjectDepth     int
	MaxObjectProperties int
	MaxRequestSize     int
}

// DefaultValidationConfig bounds request payloads generously enough for
// every built-in tool while keeping pathological inputs out.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxStringLength:     4096,
		MaxArraySize:        256,
		MaxObjectDepth:      8,
		MaxObjectProperties: 128,
		MaxRequestSize:      1 << 20, // 1 MiB
	}
}

// ZoneType groups rooms by usage pattern for room-name heuristics.
type ZoneType string

const (
	ZoneLiving  ZoneType = "living"
	ZoneSleeping ZoneType = "sleeping"
	ZoneWorking ZoneType = "working"
	ZoneUtility ZoneType = "utility"
	ZoneCommon  ZoneType = "common"
	ZoneSpecial ZoneType = "special"
)

// ZoneStatus is the zone's point-in-time operating state.
type ZoneStatus struct {
	Active             bool
	CurrentTemperature *float64
	TargetTemperature  *float64
	Mode               string
	LastUpdate         time.Time
}

// ZoneConstraints bounds what a zone's HVAC devices may be set to.
// Invariant: MinTemp < MaxTemp.
type ZoneConstraints struct {
	MinTemp        float64
	MaxTemp        float64
	MaxRateOfChange float64
	QuietHours     *QuietHours
}

// QuietHours is a [Start, End) window in local time, HH:MM; an End earlier
// than Start wraps past midnight.
type QuietHours struct {
	Start string
	End   string
}

// ZoneSchedule is intentionally minimal: the core only needs to know whether
// a schedule exists and its active set-point, not the full recurrence rule
// engine a UI layer would offer.
type ZoneSchedule struct {
	Enabled            bool
	ActiveSetpoint     float64
}

// HvacZone groups rooms under one HVAC policy. A device belongs to at most
// one zone.
type HvacZone struct {
	ZoneID      string
	Name        string
	RoomUUIDs   []string
	ZoneType    ZoneType
	Status      ZoneStatus
	Priority    int // 1..10, 1 is highest
	Schedule    *ZoneSchedule
	Constraints ZoneConstraints
	Explicit    bool // false if membership was inferred from room names
}
