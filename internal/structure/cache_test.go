package structure

import (
	"context"
	"errors"
	"testing"

	"github.com/loxone-mcp/control-plane/internal/models"
)

type fakeLoader struct {
	devices []models.Device
	rooms   []models.Room
	err     error
}

func (f *fakeLoader) LoadStructure(ctx context.Context) ([]models.Device, []models.Room, error) {
	return f.devices, f.rooms, f.err
}

func testFixture() *fakeLoader {
	return &fakeLoader{
		rooms: []models.Room{
			{UUID: "room-1", Name: "Living Room"},
			{UUID: "room-2", Name: "Bedroom"},
		},
		devices: []models.Device{
			{UUID: "dev-1", Name: "Ceiling Light", Category: models.CategoryLighting, RoomUUID: "room-1"},
			{UUID: "dev-2", Name: "Floor Lamp", Category: models.CategoryLighting, RoomUUID: "room-1"},
			{UUID: "dev-3", Name: "Bedroom Blind", Category: models.CategoryBlinds, RoomUUID: "room-2"},
		},
	}
}

func TestReloadPopulatesCache(t *testing.T) {
	c := New(testFixture())
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	stats := c.Stats()
	if stats.DeviceCount != 3 || stats.RoomCount != 2 {
		t.Fatalf("Stats() = %+v, want 3 devices, 2 rooms", stats)
	}
	if stats.ByCategory[models.CategoryLighting] != 2 {
		t.Errorf("ByCategory[lighting] = %d, want 2", stats.ByCategory[models.CategoryLighting])
	}

	room, ok := c.Room("room-1")
	if !ok || room.DeviceCount != 2 {
		t.Errorf("Room(room-1).DeviceCount = %d, want 2", room.DeviceCount)
	}
}

func TestReloadFailureKeepsPreviousData(t *testing.T) {
	c := New(testFixture())
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	c.loader = &fakeLoader{err: errors.New("controller unreachable")}
	if err := c.Reload(context.Background()); err == nil {
		t.Fatal("Reload() error = nil, want failure")
	}

	if _, ok := c.Device("dev-1"); !ok {
		t.Error("Device(dev-1) missing after failed reload, want previous data retained")
	}
}

func TestDeviceByNameAmbiguity(t *testing.T) {
	c := New(&fakeLoader{
		rooms: []models.Room{{UUID: "room-1"}, {UUID: "room-2"}},
		devices: []models.Device{
			{UUID: "dev-1", Name: "Light", RoomUUID: "room-1"},
			{UUID: "dev-2", Name: "Light", RoomUUID: "room-2"},
		},
	})
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if _, ok := c.DeviceByName("light", ""); ok {
		t.Error("DeviceByName() with no room hint and duplicate names, want ok=false")
	}
	d, ok := c.DeviceByName("light", "room-2")
	if !ok || d.UUID != "dev-2" {
		t.Errorf("DeviceByName() with room hint = %+v, ok=%v, want dev-2", d, ok)
	}
}

func TestDevicesInRoomAndByCategory(t *testing.T) {
	c := New(testFixture())
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if got := c.DevicesInRoom("room-1"); len(got) != 2 {
		t.Errorf("DevicesInRoom(room-1) = %d devices, want 2", len(got))
	}
	if got := c.DevicesByCategory(models.CategoryBlinds); len(got) != 1 {
		t.Errorf("DevicesByCategory(blinds) = %d devices, want 1", len(got))
	}
}
