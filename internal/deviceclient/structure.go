package deviceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loxone-mcp/control-plane/internal/models"
)

// structureFile is the subset of the controller's structure document the
// cache needs. The controller serves far more (icon data, statistic
// definitions, presence config); everything unknown is ignored.
type structureFile struct {
	Rooms map[string]struct {
		Name string `json:"name"`
	} `json:"rooms"`
	Cats map[string]struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"cats"`
	Controls map[string]struct {
		Name   string                 `json:"name"`
		Type   string                 `json:"type"`
		Room   string                 `json:"room"`
		Cat    string                 `json:"cat"`
		States map[string]interface{} `json:"states"`
	} `json:"controls"`
}

// LoadStructure fetches the controller's structure document and maps it
// onto the shared device/room model. It runs once at startup and again on
// explicit cache reloads, so it uses the command timeout times four rather
// than the per-command deadline — structure documents on large
// installations run to several megabytes.
func (c *HTTPClient) LoadStructure(ctx context.Context) ([]models.Device, []models.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*c.cfg.CommandTimeout)
	defer cancel()

	url := c.cfg.BaseURL + "/data/LoxAPP3.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch structure: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch structure: status %d", resp.StatusCode)
	}

	var file structureFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, nil, fmt.Errorf("decode structure: %w", err)
	}

	rooms := make([]models.Room, 0, len(file.Rooms))
	for uuid, r := range file.Rooms {
		rooms = append(rooms, models.Room{UUID: uuid, Name: r.Name})
	}

	devices := make([]models.Device, 0, len(file.Controls))
	for uuid, ctl := range file.Controls {
		catName := ""
		if cat, ok := file.Cats[ctl.Cat]; ok {
			catName = cat.Type
			if catName == "" {
				catName = cat.Name
			}
		}
		devices = append(devices, models.Device{
			UUID:       uuid,
			Name:       ctl.Name,
			DeviceType: deviceType(ctl.Type),
			Category:   categorize(ctl.Type, catName),
			RoomUUID:   ctl.Room,
			States:     ctl.States,
		})
	}

	c.log.Info().Int("devices", len(devices)).Int("rooms", len(rooms)).Msg("structure loaded from controller")
	return devices, rooms, nil
}

// categorize maps a control type plus its category name onto the fixed
// category set. Control type wins over category name: a Jalousie filed
// under "indoor climate" is still a blind.
func categorize(controlType, catName string) models.Category {
	ct := strings.ToLower(controlType)
	switch {
	case strings.Contains(ct, "jalousie"), strings.Contains(ct, "gate"), strings.Contains(ct, "blind"):
		return models.CategoryBlinds
	case strings.Contains(ct, "dimmer"), strings.Contains(ct, "lightcontroller"), strings.Contains(ct, "colorpicker"):
		return models.CategoryLighting
	case strings.Contains(ct, "roomcontroller"), strings.Contains(ct, "irc"), strings.Contains(ct, "climate"):
		return models.CategoryClimate
	case strings.Contains(ct, "windowmonitor"), strings.Contains(ct, "infoonlydigital"), strings.Contains(ct, "infoonlyanalog"), strings.Contains(ct, "presencedetector"):
		return models.CategorySensors
	case strings.Contains(ct, "audiozone"), strings.Contains(ct, "mediaclient"):
		return models.CategoryAudio
	case strings.Contains(ct, "alarm"), strings.Contains(ct, "smokealarm"), strings.Contains(ct, "intercom"):
		return models.CategorySecurity
	}

	switch strings.ToLower(catName) {
	case "lights", "lighting":
		return models.CategoryLighting
	case "shading", "blinds":
		return models.CategoryBlinds
	case "indoorclimate", "climate", "heating":
		return models.CategoryClimate
	case "audio", "multimedia":
		return models.CategoryAudio
	case "security", "alarm":
		return models.CategorySecurity
	}
	return models.CategoryOther
}

// deviceType derives the sensor-type string the journal and resolver key
// off from the raw control type.
func deviceType(controlType string) string {
	ct := strings.ToLower(controlType)
	switch {
	case strings.Contains(ct, "windowmonitor"):
		return "door_window"
	case strings.Contains(ct, "presencedetector"), strings.Contains(ct, "motion"):
		return "motion"
	case strings.Contains(ct, "roomcontroller"), strings.Contains(ct, "irc"):
		return "temperature"
	default:
		return strings.ToLower(controlType)
	}
}
