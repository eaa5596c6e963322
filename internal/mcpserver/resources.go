package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loxone-mcp/control-plane/internal/deviceclient"
	"github.com/loxone-mcp/control-plane/internal/journal"
	"github.com/loxone-mcp/control-plane/internal/models"
	"github.com/loxone-mcp/control-plane/internal/resolver"
	"github.com/loxone-mcp/control-plane/internal/structure"
	"github.com/loxone-mcp/control-plane/internal/zones"
)

const uriScheme = "loxone://"

// StaticResources is the fixed resource catalog, every entry a concrete
// loxone:// URI the resource cache classifies and the reader below
// computes.
func StaticResources() []Resource {
	return []Resource{
		{URI: uriScheme + "system/info", Name: "System Info", Description: "Server identity and capability summary", MimeType: "application/json"},
		{URI: uriScheme + "system/capabilities", Name: "System Capabilities", Description: "Advertised tool/resource/prompt surface", MimeType: "application/json"},
		{URI: uriScheme + "system/categories", Name: "Device Categories", Description: "Known device categories and counts", MimeType: "application/json"},
		{URI: uriScheme + "status/health", Name: "Health Status", Description: "Controller reachability and component stats", MimeType: "application/json"},
		{URI: uriScheme + "structure/rooms", Name: "Room Structure", Description: "Every known room with its device count", MimeType: "application/json"},
		{URI: uriScheme + "rooms", Name: "Rooms", Description: "Alias of structure/rooms", MimeType: "application/json"},
		{URI: uriScheme + "config/devices", Name: "Device Configuration", Description: "Every known device and its static metadata", MimeType: "application/json"},
		{URI: uriScheme + "devices/all", Name: "All Devices", Description: "Every known device with its resolved current value", MimeType: "application/json"},
		{URI: uriScheme + "devices/category/lighting", Name: "Lighting Devices", Description: "Devices in the lighting category", MimeType: "application/json"},
		{URI: uriScheme + "devices/category/blinds", Name: "Blinds Devices", Description: "Devices in the blinds category", MimeType: "application/json"},
		{URI: uriScheme + "devices/category/climate", Name: "Climate Devices", Description: "Devices in the climate category", MimeType: "application/json"},
		{URI: uriScheme + "audio/zones", Name: "Audio Zones", Description: "Known audio zones", MimeType: "application/json"},
		{URI: uriScheme + "audio/sources", Name: "Audio Sources", Description: "Known audio sources", MimeType: "application/json"},
		{URI: uriScheme + "sensors/temperature", Name: "Temperature Sensors", Description: "Resolved values for every temperature sensor", MimeType: "application/json"},
		{URI: uriScheme + "sensors/door-window", Name: "Door/Window Sensors", Description: "Current state of every door/window contact", MimeType: "application/json"},
		{URI: uriScheme + "sensors/motion", Name: "Motion Sensors", Description: "Current state of every motion sensor", MimeType: "application/json"},
		{URI: uriScheme + "weather/current", Name: "Current Weather", Description: "Current weather reading, if a station is configured", MimeType: "application/json"},
		{URI: uriScheme + "energy/consumption", Name: "Energy Consumption", Description: "Aggregate energy consumption, if a meter is configured", MimeType: "application/json"},
	}
}

// ResourceTemplates is the parameterized resource set.
func ResourceTemplates() []ResourceTemplate {
	return []ResourceTemplate{
		{
			URITemplate: uriScheme + "devices/{room_name}",
			Name:        "Devices In Room",
			Description: "Every device assigned to the given room",
			MimeType:    "application/json",
		},
		{
			URITemplate: uriScheme + "sensors/{sensor_type}",
			Name:        "Sensors By Type",
			Description: "Resolved values for every sensor of the given type",
			MimeType:    "application/json",
		},
	}
}

// ResourceCatalog returns every exact URI the server serves plus glob
// patterns covering the parameterized templates, for the resource cache's
// subscription validation.
func ResourceCatalog() (uris []string, globs []string) {
	for _, r := range StaticResources() {
		uris = append(uris, r.URI)
	}
	for _, t := range ResourceTemplates() {
		globs = append(globs, templateGlob(t.URITemplate))
	}
	return uris, globs
}

// templateGlob rewrites each {param} segment of a URI template as a
// wildcard, e.g. loxone://devices/{room_name} -> loxone://devices/*.
func templateGlob(template string) string {
	out := template
	for {
		start := strings.Index(out, "{")
		end := strings.Index(out, "}")
		if start < 0 || end < start {
			return out
		}
		out = out[:start] + "*" + out[end+1:]
	}
}

// ResourceDeps bundles the collaborators BuildResourceReader computes
// resource payloads from.
type ResourceDeps struct {
	Structure *structure.Cache
	Journal   *journal.Journal
	Resolver  *resolver.Resolver
	Zones     *zones.Registry
	Client    deviceclient.Client
	Name      string
	Version   string
}

// BuildResourceReader wires every loxone:// URI in the catalog above to
// its backing domain component. The rescache.Cache calls this only on a
// cache miss.
func BuildResourceReader(deps ResourceDeps) func(uri string) ([]byte, string, error) {
	return func(uri string) ([]byte, string, error) {
		path := strings.TrimPrefix(uri, uriScheme)
		ctx := context.Background()

		switch {
		case path == "system/info":
			return jsonReply(map[string]interface{}{
				"name":    deps.Name,
				"version": deps.Version,
				"time":    time.Now().Format(time.RFC3339),
			})
		case path == "system/capabilities":
			return jsonReply(map[string]interface{}{
				"tools":     true,
				"resources": true,
				"prompts":   true,
				"logging":   true,
				"subscribe": true,
			})
		case path == "system/categories":
			stats := deps.Structure.Stats()
			return jsonReply(stats.ByCategory)
		case path == "status/health":
			err := deps.Client.HealthCheck(ctx)
			status := "ok"
			if err != nil {
				status = "unreachable"
			}
			structStats := deps.Structure.Stats()
			journalStats := deps.Journal.Stats()
			return jsonReply(map[string]interface{}{
				"status":         status,
				"devices":        structStats.DeviceCount,
				"rooms":          structStats.RoomCount,
				"sensor_records": journalStats.SensorCount,
			})
		case path == "structure/rooms", path == "rooms":
			return jsonReply(deps.Structure.Rooms())
		case path == "config/devices":
			return jsonReply(deps.Structure.Devices())
		case path == "devices/all":
			return deviceSnapshot(ctx, deps, deps.Structure.Devices())
		case strings.HasPrefix(path, "devices/category/"):
			cat := models.Category(strings.TrimPrefix(path, "devices/category/"))
			return deviceSnapshot(ctx, deps, deps.Structure.DevicesByCategory(cat))
		case strings.HasPrefix(path, "devices/"):
			room := strings.TrimPrefix(path, "devices/")
			r, ok := deps.Structure.RoomByName(room)
			if !ok {
				return nil, "", fmt.Errorf("unknown room %q", room)
			}
			return deviceSnapshot(ctx, deps, deps.Structure.DevicesInRoom(r.UUID))
		case path == "audio/zones":
			return jsonReply(deps.Structure.DevicesByCategory(models.CategoryAudio))
		case path == "audio/sources":
			// No audio-source enumeration endpoint exists in this core;
			// audio devices double as sources until a dedicated source
			// registry exists.
			return jsonReply(deps.Structure.DevicesByCategory(models.CategoryAudio))
		case path == "sensors/temperature":
			return sensorSnapshot(ctx, deps, "temperature")
		case path == "sensors/door-window":
			return sensorSnapshot(ctx, deps, "door_window")
		case path == "sensors/motion":
			return sensorSnapshot(ctx, deps, "motion")
		case strings.HasPrefix(path, "sensors/"):
			sensorType := strings.TrimPrefix(path, "sensors/")
			return sensorSnapshot(ctx, deps, sensorType)
		case path == "weather/current":
			// No weather station integration yet; report an honest empty
			// reading rather than fabricating one.
			return jsonReply(map[string]interface{}{"available": false})
		case path == "energy/consumption":
			// No energy meter integration yet either.
			return jsonReply(map[string]interface{}{"available": false})
		default:
			return nil, "", fmt.Errorf("unknown resource uri: %s", uri)
		}
	}
}

func deviceSnapshot(ctx context.Context, deps ResourceDeps, devices []models.Device) ([]byte, string, error) {
	uuids := make([]string, 0, len(devices))
	for _, d := range devices {
		uuids = append(uuids, d.UUID)
	}
	values := deps.Resolver.ResolveBatch(ctx, uuids)

	type entry struct {
		models.Device
		Resolved models.ResolvedValue `json:"resolved"`
	}
	out := make([]entry, 0, len(devices))
	for _, d := range devices {
		out = append(out, entry{Device: d, Resolved: values[d.UUID]})
	}
	return jsonReply(out)
}

func sensorSnapshot(ctx context.Context, deps ResourceDeps, sensorType string) ([]byte, string, error) {
	devices := deps.Structure.DevicesByCategory(models.CategorySensors)
	var matching []models.Device
	for _, d := range devices {
		if d.DeviceType == sensorType {
			matching = append(matching, d)
		}
	}
	return deviceSnapshot(ctx, deps, matching)
}

func jsonReply(v interface{}) ([]byte, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}
