// Package structure implements the Structure Cache (C2): the in-memory
// uuid->Device and uuid->Room mapping every other component borrows from.
// The cache owns these records exclusively — callers read under a shared
// lock and never hold a reference across a reload.
package structure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/models"
)

// Loader fetches the current device/room structure from the controller.
// The production device client implements this against the Miniserver's
// structure document; tests supply a fake.
type Loader interface {
	LoadStructure(ctx context.Context) ([]models.Device, []models.Room, error)
}

// Stats summarizes what the cache currently holds.
type Stats struct {
	DeviceCount int
	RoomCount   int
	ByCategory  map[models.Category]int
}

// Cache is read-mostly: Get/List/Stats take the read lock; Reload takes the
// write lock and swaps the whole data set atomically.
type Cache struct {
	loader Loader
	log    zerolog.Logger

	mu      sync.RWMutex
	devices map[string]models.Device
	rooms   map[string]models.Room
	// roomDevices indexes devices by room so room-scoped fan-out does not
	// scan the full device map; rooms themselves never back-reference
	// devices.
	roomDevices map[string][]string
}

// New builds an empty cache. Call Reload before serving traffic.
func New(loader Loader) *Cache {
	return &Cache{
		loader:      loader,
		log:         logging.Component("structure"),
		devices:     make(map[string]models.Device),
		rooms:       make(map[string]models.Room),
		roomDevices: make(map[string][]string),
	}
}

// Reload fetches the full structure from the loader and swaps it in under
// an exclusive lock. A reload failure leaves the previous structure intact.
func (c *Cache) Reload(ctx context.Context) error {
	devices, rooms, err := c.loader.LoadStructure(ctx)
	if err != nil {
		return fmt.Errorf("load structure: %w", err)
	}

	deviceMap := make(map[string]models.Device, len(devices))
	roomMap := make(map[string]models.Room, len(rooms))
	roomDevices := make(map[string][]string, len(rooms))
	deviceCounts := make(map[string]int, len(rooms))

	for _, r := range rooms {
		roomMap[r.UUID] = r
	}
	for _, d := range devices {
		deviceMap[d.UUID] = d
		if d.RoomUUID != "" {
			roomDevices[d.RoomUUID] = append(roomDevices[d.RoomUUID], d.UUID)
			deviceCounts[d.RoomUUID]++
		}
	}
	for uuid, count := range deviceCounts {
		if r, ok := roomMap[uuid]; ok {
			r.DeviceCount = count
			roomMap[uuid] = r
		}
	}

	c.mu.Lock()
	c.devices = deviceMap
	c.rooms = roomMap
	c.roomDevices = roomDevices
	c.mu.Unlock()

	c.log.Info().Int("devices", len(deviceMap)).Int("rooms", len(roomMap)).Msg("structure cache reloaded")
	return nil
}

// Device returns the device for uuid and whether it was found.
func (c *Cache) Device(uuid string) (models.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[uuid]
	return d, ok
}

// Room returns the room for uuid and whether it was found.
func (c *Cache) Room(uuid string) (models.Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rooms[uuid]
	return r, ok
}

// RoomByName finds a room by case-insensitive exact name match.
func (c *Cache) RoomByName(name string) (models.Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rooms {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return models.Room{}, false
}

// DeviceByName finds a device by case-insensitive exact name match. If more
// than one device shares a name, roomHint (a room UUID, may be empty)
// disambiguates; an empty roomHint with multiple matches returns ok=false
// so the caller can surface the ambiguity as InvalidFormat.
func (c *Cache) DeviceByName(name, roomHint string) (models.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches []models.Device
	for _, d := range c.devices {
		if strings.EqualFold(d.Name, name) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return models.Device{}, false
	case 1:
		return matches[0], true
	}
	if roomHint != "" {
		for _, d := range matches {
			if d.RoomUUID == roomHint {
				return d, true
			}
		}
	}
	return models.Device{}, false
}

// DevicesInRoom returns every device assigned to roomUUID.
func (c *Cache) DevicesInRoom(roomUUID string) []models.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uuids := c.roomDevices[roomUUID]
	out := make([]models.Device, 0, len(uuids))
	for _, uuid := range uuids {
		out = append(out, c.devices[uuid])
	}
	return out
}

// DevicesByCategory returns every device in the given category, regardless
// of room.
func (c *Cache) DevicesByCategory(cat models.Category) []models.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.Device
	for _, d := range c.devices {
		if d.Category == cat {
			out = append(out, d)
		}
	}
	return out
}

// Devices returns every known device, including ones with no room.
func (c *Cache) Devices() []models.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	return out
}

// Rooms returns every known room.
func (c *Cache) Rooms() []models.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Stats reports current cache occupancy, broken down by category.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byCategory := make(map[models.Category]int)
	for _, d := range c.devices {
		byCategory[d.Category]++
	}
	return Stats{
		DeviceCount: len(c.devices),
		RoomCount:   len(c.rooms),
		ByCategory:  byCategory,
	}
}
