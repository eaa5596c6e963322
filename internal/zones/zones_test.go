package zones

import (
	"testing"

	"github.com/loxone-mcp/control-plane/internal/models"
)

func TestPutAndRoomsInZone(t *testing.T) {
	r := New()
	r.Put(models.HvacZone{ZoneID: "z1", Name: "Upstairs", RoomUUIDs: []string{"room-1", "room-2"}})

	rooms := r.RoomsInZone("z1")
	if len(rooms) != 2 {
		t.Fatalf("RoomsInZone() = %v, want 2 rooms", rooms)
	}
	id, ok := r.ZoneForRoom("room-1")
	if !ok || id != "z1" {
		t.Errorf("ZoneForRoom(room-1) = %q, %v, want z1, true", id, ok)
	}
}

func TestZoneNotFound(t *testing.T) {
	r := New()
	if _, ok := r.Zone("missing"); ok {
		t.Error("Zone(missing) found, want absent")
	}
}

func TestInferZoneTypeHeuristic(t *testing.T) {
	cases := map[string]models.ZoneType{
		"Master Bedroom": models.ZoneSleeping,
		"Home Office":    models.ZoneWorking,
		"Kitchen":        models.ZoneLiving,
		"Garage":         models.ZoneUtility,
		"Hallway":        models.ZoneCommon,
	}
	for name, want := range cases {
		got, ok := InferZoneType(name)
		if !ok || got != want {
			t.Errorf("InferZoneType(%q) = %v, %v, want %v, true", name, got, ok, want)
		}
	}
}

func TestInferFromRoomsGroupsByType(t *testing.T) {
	r := New()
	InferFromRooms(r, []models.Room{
		{UUID: "room-1", Name: "Master Bedroom"},
		{UUID: "room-2", Name: "Guest Bedroom"},
		{UUID: "room-3", Name: "Office"},
		{UUID: "room-4", Name: "Pantry"}, // no heuristic match
	})

	sleeping, ok := r.Zone("sleeping")
	if !ok {
		t.Fatal("sleeping zone not registered")
	}
	if sleeping.Explicit {
		t.Error("inferred zone marked explicit")
	}
	if len(sleeping.RoomUUIDs) != 2 {
		t.Errorf("sleeping rooms = %v, want both bedrooms", sleeping.RoomUUIDs)
	}
	if sleeping.Constraints.QuietHours == nil {
		t.Error("sleeping zone should carry default quiet hours")
	}

	working, ok := r.Zone("working")
	if !ok || len(working.RoomUUIDs) != 1 {
		t.Errorf("working zone = %+v, ok=%v, want one room", working, ok)
	}
	if working.Constraints.QuietHours != nil {
		t.Error("non-sleeping inferred zone should not get quiet hours")
	}

	if _, assigned := r.ZoneForRoom("room-4"); assigned {
		t.Error("room with no heuristic match should stay zoneless")
	}
}

func TestInferFromRoomsKeepsExplicitAssignment(t *testing.T) {
	r := New()
	r.Put(models.HvacZone{
		ZoneID:    "night-wing",
		Name:      "Night Wing",
		RoomUUIDs: []string{"room-1"},
		ZoneType:  models.ZoneSleeping,
		Priority:  1,
		Constraints: models.ZoneConstraints{
			MinTemp: 17, MaxTemp: 21,
		},
	})

	InferFromRooms(r, []models.Room{
		{UUID: "room-1", Name: "Master Bedroom"},
		{UUID: "room-2", Name: "Guest Bedroom"},
	})

	if id, _ := r.ZoneForRoom("room-1"); id != "night-wing" {
		t.Errorf("room-1 zone = %q, want explicit night-wing preserved", id)
	}
	sleeping, ok := r.Zone("sleeping")
	if !ok || len(sleeping.RoomUUIDs) != 1 || sleeping.RoomUUIDs[0] != "room-2" {
		t.Errorf("inferred sleeping zone = %+v, want only room-2", sleeping)
	}
}

func TestInferZoneTypeNoMatch(t *testing.T) {
	if _, ok := InferZoneType("Server Room"); ok {
		t.Error("InferZoneType(Server Room) matched, want no heuristic")
	}
}
