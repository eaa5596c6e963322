// Package zones holds the HVAC zone registry: explicit zone membership
// plus a room-name heuristic fallback for rooms nobody assigned.
package zones

import (
	"strings"
	"sync"

	"github.com/loxone-mcp/control-plane/internal/models"
)

// heuristicTable maps a room-name substring to the zone type it implies.
// Last-resort only — never consulted when a room has an explicit zone
// assignment.
var heuristicTable = []struct {
	substr string
	zone   models.ZoneType
}{
	{"bedroom", models.ZoneSleeping},
	{"sleep", models.ZoneSleeping},
	{"office", models.ZoneWorking},
	{"study", models.ZoneWorking},
	{"kitchen", models.ZoneLiving},
	{"living", models.ZoneLiving},
	{"lounge", models.ZoneLiving},
	{"garage", models.ZoneUtility},
	{"utility", models.ZoneUtility},
	{"laundry", models.ZoneUtility},
	{"hallway", models.ZoneCommon},
	{"corridor", models.ZoneCommon},
	{"bathroom", models.ZoneCommon},
}

// Registry owns every HvacZone and the room->zone index derived from it.
type Registry struct {
	mu       sync.RWMutex
	zones    map[string]*models.HvacZone
	roomZone map[string]string // room uuid -> zone id
}

func New() *Registry {
	return &Registry{
		zones:    make(map[string]*models.HvacZone),
		roomZone: make(map[string]string),
	}
}

// Put registers or replaces a zone with explicit room membership.
func (r *Registry) Put(zone models.HvacZone) {
	zone.Explicit = true
	r.put(zone)
}

// PutInferred registers a zone derived from room-name heuristics. An
// explicit Put for the same zone id replaces it.
func (r *Registry) PutInferred(zone models.HvacZone) {
	zone.Explicit = false
	r.put(zone)
}

func (r *Registry) put(zone models.HvacZone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones[zone.ZoneID] = &zone
	for _, room := range zone.RoomUUIDs {
		r.roomZone[room] = zone.ZoneID
	}
}

// Zone returns the zone for zoneID, if known.
func (r *Registry) Zone(zoneID string) (models.HvacZone, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[zoneID]
	if !ok {
		return models.HvacZone{}, false
	}
	return *z, true
}

// RoomsInZone returns every room UUID assigned to zoneID.
func (r *Registry) RoomsInZone(zoneID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[zoneID]
	if !ok {
		return nil
	}
	out := make([]string, len(z.RoomUUIDs))
	copy(out, z.RoomUUIDs)
	return out
}

// ZoneForRoom returns the zone id for room, if assigned.
func (r *Registry) ZoneForRoom(roomUUID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.roomZone[roomUUID]
	return id, ok
}

// InferFromRooms groups every room whose name matches the heuristic table
// into one inferred zone per zone type and registers those zones. Rooms
// already covered by an explicit assignment keep it; rooms matching no
// heuristic stay zoneless. Sleeping zones get a default overnight
// quiet-hours window, the one constraint a heuristic can set without
// guessing at a household's comfort band too precisely.
func InferFromRooms(r *Registry, rooms []models.Room) {
	byType := make(map[models.ZoneType][]string)
	for _, room := range rooms {
		if _, assigned := r.ZoneForRoom(room.UUID); assigned {
			continue
		}
		zt, ok := InferZoneType(room.Name)
		if !ok {
			continue
		}
		byType[zt] = append(byType[zt], room.UUID)
	}

	for zt, uuids := range byType {
		zone := models.HvacZone{
			ZoneID:    string(zt),
			Name:      capitalize(string(zt)),
			RoomUUIDs: uuids,
			ZoneType:  zt,
			Priority:  5,
			Constraints: models.ZoneConstraints{
				MinTemp:         16,
				MaxTemp:         26,
				MaxRateOfChange: 2,
			},
		}
		if zt == models.ZoneSleeping {
			zone.Constraints.QuietHours = &models.QuietHours{Start: "22:00", End: "07:00"}
		}
		r.PutInferred(zone)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// InferZoneType applies the room-name heuristic table. Callers must treat
// the result as a last-resort default — it never overrides an explicit
// assignment and should not drive correctness-critical scheduling
// decisions.
func InferZoneType(roomName string) (models.ZoneType, bool) {
	lower := strings.ToLower(roomName)
	for _, entry := range heuristicTable {
		if strings.Contains(lower, entry.substr) {
			return entry.zone, true
		}
	}
	return "", false
}
