package journal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecordNoOpOnSameValue(t *testing.T) {
	j := New(Config{})
	j.Record("s1", 0.0, 0.0, "Door", "door_window", "room-1")
	if _, ok := j.History("s1"); ok {
		t.Error("History(s1) found after no-op record, want absent")
	}
}

func TestRecordFirstSeenThenStateChange(t *testing.T) {
	j := New(Config{})
	j.Record("s1", nil, 1.0, "Door", "door_window", "room-1")
	j.Record("s1", 1.0, 0.0, "Door", "door_window", "room-1")

	hist, ok := j.History("s1")
	if !ok {
		t.Fatal("History(s1) not found")
	}
	if len(hist.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(hist.Events))
	}
	if hist.Events[0].EventType != "first_seen" {
		t.Errorf("Events[0].EventType = %v, want first_seen", hist.Events[0].EventType)
	}
	if hist.Events[1].HumanReadable != "CLOSED" {
		t.Errorf("Events[1].HumanReadable = %q, want CLOSED", hist.Events[1].HumanReadable)
	}
	if hist.TotalChanges != 2 {
		t.Errorf("TotalChanges = %d, want 2", hist.TotalChanges)
	}
}

func TestRingBufferRollover(t *testing.T) {
	j := New(Config{MaxEventsPerSensor: 3})
	values := []float64{0, 1, 0, 1}
	prev := interface{}(nil)
	for _, v := range values {
		j.Record("s1", prev, v, "", "", "")
		prev = v
	}

	hist, _ := j.History("s1")
	if len(hist.Events) != 3 {
		t.Fatalf("len(Events) = %d, want 3", len(hist.Events))
	}
	// The oldest surviving event should be the second transition (nil->0
	// was dropped).
	if hist.Events[0].NewValue != values[1] {
		t.Errorf("Events[0].NewValue = %v, want %v", hist.Events[0].NewValue, values[1])
	}
}

func TestLRUEvictionAtMaxSensors(t *testing.T) {
	j := New(Config{MaxSensors: 2})
	j.Record("s1", nil, 1.0, "", "", "")
	j.Record("s2", nil, 1.0, "", "", "")
	j.Record("s3", nil, 1.0, "", "", "")

	if _, ok := j.History("s1"); ok {
		t.Error("History(s1) still present, want evicted as oldest")
	}
	if _, ok := j.History("s3"); !ok {
		t.Error("History(s3) missing, want present")
	}
}

func TestSyncWritesAtomicSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.json")

	j := New(Config{LogFile: path})
	j.Record("s1", nil, 1.0, "Sensor", "", "room-1")

	if err := j.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("journal file not written: %v", err)
	}

	stats := j.Stats()
	if stats.PendingChanges != 0 {
		t.Errorf("PendingChanges = %d after sync, want 0", stats.PendingChanges)
	}

	j2 := New(Config{LogFile: path})
	if err := j2.LoadFromDisk(); err != nil {
		t.Fatalf("LoadFromDisk() error = %v", err)
	}
	hist, ok := j2.History("s1")
	if !ok || hist.TotalChanges != 1 {
		t.Errorf("reloaded history = %+v, ok=%v, want TotalChanges=1", hist, ok)
	}
}

func TestSyncNoOpWithoutPendingChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.json")
	j := New(Config{LogFile: path})

	if err := j.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("journal file written despite no pending changes")
	}
}

func TestDoorWindowActivity(t *testing.T) {
	j := New(Config{})
	j.Record("s1", nil, 1.0, "Front Door", "door_window", "room-1")
	j.Record("s1", 1.0, 0.0, "Front Door", "door_window", "room-1")
	j.Record("s1", 0.0, 1.0, "Front Door", "door_window", "room-1")

	activity := j.DoorWindowActivity(24)
	counts, ok := activity["s1"]
	if !ok {
		t.Fatal("DoorWindowActivity missing s1")
	}
	if counts.Opens != 2 || counts.Closes != 1 {
		t.Errorf("counts = %+v, want opens=2 closes=1", counts)
	}
}

func TestRecentAcrossAllSortedDescending(t *testing.T) {
	j := New(Config{})
	j.Record("s1", nil, 1.0, "", "", "")
	j.Record("s2", nil, 1.0, "", "", "")
	j.Record("s1", 1.0, 0.0, "", "", "")

	recent := j.RecentAcrossAll(2)
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].Timestamp.Before(recent[1].Timestamp) {
		t.Error("recent events not sorted descending by timestamp")
	}
}
