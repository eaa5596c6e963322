package rescache

import (
	"fmt"
	"testing"
	"time"
)

func TestReadCachesWithinTTL(t *testing.T) {
	calls := 0
	reader := func(uri string) ([]byte, string, error) {
		calls++
		return []byte(fmt.Sprintf("payload-%d", calls)), "application/json", nil
	}
	c := New([]ClassificationRule{{Pattern: "loxone://sensors/temperature", TTL: 5 * time.Second, Cacheable: true}}, reader)

	data1, _, err := c.Read("loxone://sensors/temperature")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	data2, _, err := c.Read("loxone://sensors/temperature")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data1) != string(data2) {
		t.Errorf("second read = %q, want cached %q", data2, data1)
	}
	if calls != 1 {
		t.Errorf("reader called %d times, want 1", calls)
	}
}

func TestReadRecomputesAfterTTL(t *testing.T) {
	calls := 0
	reader := func(uri string) ([]byte, string, error) {
		calls++
		return []byte(fmt.Sprintf("payload-%d", calls)), "application/json", nil
	}
	c := New([]ClassificationRule{{Pattern: "loxone://sensors/temperature", TTL: 10 * time.Millisecond, Cacheable: true}}, reader)

	c.Read("loxone://sensors/temperature")
	time.Sleep(20 * time.Millisecond)
	c.Read("loxone://sensors/temperature")

	if calls != 2 {
		t.Errorf("reader called %d times, want 2 after TTL expiry", calls)
	}
}

func TestNonCacheableAlwaysRecomputes(t *testing.T) {
	calls := 0
	reader := func(uri string) ([]byte, string, error) {
		calls++
		return []byte("x"), "application/json", nil
	}
	c := New([]ClassificationRule{{Pattern: "loxone://system/info", Cacheable: false}}, reader)

	c.Read("loxone://system/info")
	c.Read("loxone://system/info")
	if calls != 2 {
		t.Errorf("reader called %d times, want 2 for non-cacheable uri", calls)
	}
}

func testCatalog(c *Cache) {
	c.SetCatalog(
		[]string{
			"loxone://sensors/temperature",
			"loxone://system/categories",
			"loxone://config/devices",
			"loxone://devices/category/lighting",
			"loxone://audio/sources",
		},
		[]string{
			"loxone://devices/*",
			"loxone://sensors/*",
		},
	)
}

func TestSubscribeUnsubscribeIdempotent(t *testing.T) {
	c := New(DefaultClassification(), func(uri string) ([]byte, string, error) { return nil, "", nil })
	testCatalog(c)

	if err := c.Subscribe("loxone://sensors/temperature"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.Subscribed("loxone://sensors/temperature") {
		t.Error("Subscribed() = false after Subscribe")
	}

	c.Unsubscribe("loxone://sensors/temperature")
	c.Unsubscribe("loxone://sensors/temperature")
	if c.Subscribed("loxone://sensors/temperature") {
		t.Error("Subscribed() = true after double unsubscribe")
	}
}

func TestSubscribeAcceptsWholeCatalog(t *testing.T) {
	c := New(DefaultClassification(), func(uri string) ([]byte, string, error) { return nil, "", nil })
	testCatalog(c)

	// URIs the classification table only covers via its default rule must
	// still be subscribable: classification decides TTLs, not validity.
	for _, uri := range []string{
		"loxone://system/categories",
		"loxone://config/devices",
		"loxone://devices/category/lighting",
		"loxone://audio/sources",
		"loxone://devices/Kitchen",     // devices/{room_name} template
		"loxone://sensors/humidity",    // sensors/{sensor_type} template
	} {
		if err := c.Subscribe(uri); err != nil {
			t.Errorf("Subscribe(%s) error = %v, want accepted", uri, err)
		}
	}
}

func TestSubscribeUnknownURIFails(t *testing.T) {
	c := New(DefaultClassification(), func(uri string) ([]byte, string, error) { return nil, "", nil })
	testCatalog(c)

	if err := c.Subscribe("loxone://nonsense/path"); err == nil {
		t.Error("Subscribe() error = nil for a uri outside the catalog, want failure")
	}
}

func TestSubscribeWithoutCatalogRejectsEverything(t *testing.T) {
	c := New(DefaultClassification(), func(uri string) ([]byte, string, error) { return nil, "", nil })
	if err := c.Subscribe("loxone://sensors/temperature"); err == nil {
		t.Error("Subscribe() error = nil with no catalog set, want failure")
	}
}
