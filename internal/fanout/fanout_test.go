package fanout

import (
	"context"
	"fmt"
	"testing"

	"github.com/loxone-mcp/control-plane/internal/deviceclient"
	"github.com/loxone-mcp/control-plane/internal/models"
	"github.com/loxone-mcp/control-plane/internal/zones"
)

type fakeStructure struct {
	devices     map[string]models.Device
	rooms       map[string]models.Room
	byRoom      map[string][]models.Device
	byCategory  map[models.Category][]models.Device
}

func (f *fakeStructure) Device(uuid string) (models.Device, bool) {
	d, ok := f.devices[uuid]
	return d, ok
}

func (f *fakeStructure) DeviceByName(name, roomHint string) (models.Device, bool) {
	var matches []models.Device
	for _, d := range f.devices {
		if d.Name == name {
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

func (f *fakeStructure) RoomByName(name string) (models.Room, bool) {
	for _, r := range f.rooms {
		if r.Name == name {
			return r, true
		}
	}
	return models.Room{}, false
}

func (f *fakeStructure) DevicesInRoom(roomUUID string) []models.Device {
	return f.byRoom[roomUUID]
}

func (f *fakeStructure) DevicesByCategory(cat models.Category) []models.Device {
	return f.byCategory[cat]
}

type fakeClient struct {
	fail map[string]bool
}

func (f *fakeClient) SendCommand(ctx context.Context, uuid, command string) (deviceclient.CommandResult, error) {
	if f.fail[uuid] {
		return deviceclient.CommandResult{}, fmt.Errorf("device %s unreachable", uuid)
	}
	return deviceclient.CommandResult{UUID: uuid, Response: "ok"}, nil
}

func threeLights() *fakeStructure {
	devices := []models.Device{
		{UUID: "L1", Name: "Light 1", Category: models.CategoryLighting},
		{UUID: "L2", Name: "Light 2", Category: models.CategoryLighting},
		{UUID: "L3", Name: "Light 3", Category: models.CategoryLighting},
	}
	return &fakeStructure{
		devices:    map[string]models.Device{"L1": devices[0], "L2": devices[1], "L3": devices[2]},
		byCategory: map[models.Category][]models.Device{models.CategoryLighting: devices},
	}
}

func TestDispatchAllLightsPartialFailure(t *testing.T) {
	st := threeLights()
	cl := &fakeClient{fail: map[string]bool{"L2": true}}
	e := New(st, cl, nil)

	agg, err := e.Dispatch(context.Background(), Request{Scope: ScopeAll, Category: models.CategoryLighting, Command: "off"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil (partial failure is a success envelope)", err)
	}
	if agg.Total != 3 || agg.Successful != 2 || agg.Failed != 1 {
		t.Errorf("Aggregate = %+v, want total=3 successful=2 failed=1", agg)
	}

	var l2 DeviceResult
	for _, r := range agg.Results {
		if r.UUID == "L2" {
			l2 = r
		}
	}
	if l2.Success || l2.Error == "" {
		t.Errorf("L2 result = %+v, want failure with error message", l2)
	}
}

func TestDispatchEmptyRoomReturnsEmptyContext(t *testing.T) {
	st := &fakeStructure{devices: map[string]models.Device{}, rooms: map[string]models.Room{}}
	e := New(st, &fakeClient{}, nil)

	agg, err := e.Dispatch(context.Background(), Request{Scope: ScopeRoom, Target: "Nonexistent Room", Category: models.CategoryBlinds, Command: "down"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil for empty-with-context", err)
	}
	if agg.EmptyContext == "" {
		t.Error("EmptyContext empty, want populated for an unknown room")
	}
}

func TestDispatchZoneScope(t *testing.T) {
	devices := []models.Device{
		{UUID: "C1", Name: "Thermostat", Category: models.CategoryClimate, RoomUUID: "room-1"},
	}
	st := &fakeStructure{
		devices: map[string]models.Device{"C1": devices[0]},
		byRoom:  map[string][]models.Device{"room-1": devices},
	}
	zr := zones.New()
	zr.Put(models.HvacZone{ZoneID: "z1", RoomUUIDs: []string{"room-1"}})

	e := New(st, &fakeClient{}, zr)
	agg, err := e.Dispatch(context.Background(), Request{Scope: ScopeZone, Target: "z1", Category: models.CategoryClimate, Command: "setpoint/21.5"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if agg.Total != 1 || agg.Successful != 1 {
		t.Errorf("Aggregate = %+v, want total=1 successful=1", agg)
	}
}

func TestResolveDeviceUnknownTarget(t *testing.T) {
	st := &fakeStructure{devices: map[string]models.Device{}}
	e := New(st, &fakeClient{}, nil)
	_, err := e.Resolve(Request{Scope: ScopeDevice, Target: "unknown-device"})
	if err == nil {
		t.Error("Resolve() error = nil for unknown device target, want failure")
	}
}

func TestResolveDeviceRoomHint(t *testing.T) {
	devices := []models.Device{
		{UUID: "L1", Name: "Ceiling Light", Category: models.CategoryLighting, RoomUUID: "room-1"},
		{UUID: "L2", Name: "Ceiling Light", Category: models.CategoryLighting, RoomUUID: "room-2"},
	}
	st := &fakeStructure{
		devices: map[string]models.Device{"L1": devices[0], "L2": devices[1]},
		rooms: map[string]models.Room{
			"room-1": {UUID: "room-1", Name: "Living Room"},
			"room-2": {UUID: "room-2", Name: "Bedroom"},
		},
	}
	e := New(st, &fakeClient{}, zones.New())

	// Without a hint the duplicate name is ambiguous.
	if _, err := e.Resolve(Request{Scope: ScopeDevice, Target: "Ceiling Light", Category: models.CategoryLighting}); err == nil {
		t.Fatal("Resolve() error = nil for a duplicate name with no hint, want ambiguity error")
	}

	resolved, err := e.Resolve(Request{
		Scope: ScopeDevice, Target: "Ceiling Light", Category: models.CategoryLighting, RoomHint: "Bedroom",
	})
	if err != nil {
		t.Fatalf("Resolve() with room hint error = %v", err)
	}
	if len(resolved) != 1 || resolved[0].UUID != "L2" {
		t.Errorf("resolved = %+v, want the Bedroom device L2", resolved)
	}
}

func TestNameContainsFilter(t *testing.T) {
	st := threeLights()
	e := New(st, &fakeClient{}, nil)
	devices, err := e.Resolve(Request{Scope: ScopeAll, Category: models.CategoryLighting, NameContains: "1"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(devices) != 1 || devices[0].UUID != "L1" {
		t.Errorf("Resolve() with NameContains=1 = %+v, want only L1", devices)
	}
}
