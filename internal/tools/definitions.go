package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loxone-mcp/control-plane/internal/deviceclient"
	"github.com/loxone-mcp/control-plane/internal/fanout"
	"github.com/loxone-mcp/control-plane/internal/journal"
	"github.com/loxone-mcp/control-plane/internal/models"
	"github.com/loxone-mcp/control-plane/internal/structure"
	"github.com/loxone-mcp/control-plane/internal/zones"
)

// Deps bundles every collaborator the tool surface dispatches into.
type Deps struct {
	Structure *structure.Cache
	Client    deviceclient.Client
	Fanout    *fanout.Engine
	Journal   *journal.Journal
	Zones     *zones.Registry
}

// Register builds every tool and its legacy aliases against deps.
func Register(r *Registry, deps Deps) {
	registerControlDevice(r, deps)
	registerRolladenUnified(r, deps)
	registerLightsUnified(r, deps)
	registerRoomTemperature(r, deps)
	registerRoomMode(r, deps)
	registerSensorHistory(r, deps)
	registerDoorWindowActivity(r, deps)
	registerHealthCheck(r, deps)
	registerLegacyAliases(r)
}

// roomHintUUID resolves an optional "room" argument to its UUID for
// duplicate-name disambiguation. An unknown room name degrades to no hint.
func roomHintUUID(deps Deps, args map[string]interface{}) string {
	name, _ := args["room"].(string)
	if name == "" {
		return ""
	}
	room, ok := deps.Structure.RoomByName(name)
	if !ok {
		return ""
	}
	return room.UUID
}

func asJSON(v interface{}) CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("marshal response: %v", err)
	}
	return TextResult(string(data))
}

func registerControlDevice(r *Registry, deps Deps) {
	r.Register(RegisteredTool{
		Definition: Tool{
			Name:        "control_device",
			Description: "Issue one command to a single device.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"device_id": {Type: "string", Description: "Device UUID or exact name"},
					"action":    {Type: "string", Description: "Command string, e.g. on, off, up, down, stop"},
					"room":      {Type: "string", Description: "Room name disambiguating a duplicate device name"},
				},
				Required: []string{"device_id", "action"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
			deviceID, _ := args["device_id"].(string)
			action, _ := args["action"].(string)

			device, ok := deps.Structure.Device(deviceID)
			if !ok {
				device, ok = deps.Structure.DeviceByName(deviceID, roomHintUUID(deps, args))
			}
			if !ok {
				return asJSON(map[string]interface{}{"empty_context": fmt.Sprintf("device %q not found", deviceID)}), nil
			}

			res, err := deps.Client.SendCommand(ctx, device.UUID, action)
			if err != nil {
				return asJSON(map[string]interface{}{
					"device": device.Name, "uuid": device.UUID, "success": false, "error": err.Error(),
				}), nil
			}
			return asJSON(map[string]interface{}{
				"device": device.Name, "uuid": device.UUID, "success": true,
				"previous_state": res.PreviousState, "response": res.Response,
			}), nil
		},
	})
}

func registerRolladenUnified(r *Registry, deps Deps) {
	r.Register(RegisteredTool{
		Definition: Tool{
			Name:        "control_rolladen_unified",
			Description: "Fan-out blinds/rolladen command across device, room, zone, or all scope.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"scope":    {Type: "string", Enum: []string{"device", "room", "zone", "all"}},
					"target":   {Type: "string", Description: "UUID/name/room name/zone id, depending on scope"},
					"action":   {Type: "string", Enum: []string{"up", "down", "stop", "position"}},
					"position": {Type: "number", Description: "0-100, required when action=position"},
					"room":     {Type: "string", Description: "Room name biasing a scope=device name match"},
				},
				Required: []string{"scope", "action"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
			scope, _ := args["scope"].(string)
			target, _ := args["target"].(string)
			action, _ := args["action"].(string)
			roomHint, _ := args["room"].(string)

			command := action
			if action == "position" {
				pos, _ := args["position"].(float64)
				command = fmt.Sprintf("position/%g", pos)
			}

			agg, err := deps.Fanout.Dispatch(ctx, fanout.Request{
				Scope: fanout.Scope(scope), Target: target, Category: models.CategoryBlinds,
				Command: command, RoomHint: roomHint,
			})
			if err != nil {
				return ErrorResult("%v", err), nil
			}
			return asJSON(agg), nil
		},
	})
}

func registerLightsUnified(r *Registry, deps Deps) {
	r.Register(RegisteredTool{
		Definition: Tool{
			Name:        "control_lights_unified",
			Description: "Fan-out lighting command across device, room, zone, or all scope.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"scope":      {Type: "string", Enum: []string{"device", "room", "zone", "all"}},
					"target":     {Type: "string"},
					"action":     {Type: "string", Enum: []string{"on", "off", "dim"}},
					"brightness": {Type: "number", Description: "0-100, required when action=dim"},
					"room":       {Type: "string", Description: "Room name biasing a scope=device name match"},
				},
				Required: []string{"scope", "action"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
			scope, _ := args["scope"].(string)
			target, _ := args["target"].(string)
			action, _ := args["action"].(string)
			roomHint, _ := args["room"].(string)

			command := action
			if action == "dim" {
				brightness, _ := args["brightness"].(float64)
				command = fmt.Sprintf("dim/%g", brightness)
			}

			agg, err := deps.Fanout.Dispatch(ctx, fanout.Request{
				Scope: fanout.Scope(scope), Target: target, Category: models.CategoryLighting,
				Command: command, RoomHint: roomHint,
			})
			if err != nil {
				return ErrorResult("%v", err), nil
			}
			return asJSON(agg), nil
		},
	})
}

func registerRoomTemperature(r *Registry, deps Deps) {
	r.Register(RegisteredTool{
		Definition: Tool{
			Name:        "set_room_temperature",
			Description: "Set the climate setpoint for a room, honoring zone quiet-hours.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"room_name":   {Type: "string"},
					"temperature": {Type: "number", Description: "5-35 degrees C"},
				},
				Required: []string{"room_name", "temperature"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
			roomName, _ := args["room_name"].(string)
			temp, _ := args["temperature"].(float64)

			agg, err := deps.Fanout.Dispatch(ctx, fanout.Request{
				Scope: fanout.ScopeRoom, Target: roomName, Category: models.CategoryClimate,
				Command: fmt.Sprintf("setpoint/%g", temp),
			})
			if err != nil {
				return ErrorResult("%v", err), nil
			}

			response := map[string]interface{}{"result": agg}
			if warning := quietHoursWarning(deps, roomName); warning != "" {
				response["warning"] = warning
			}
			return asJSON(response), nil
		},
	})
}

func registerRoomMode(r *Registry, deps Deps) {
	r.Register(RegisteredTool{
		Definition: Tool{
			Name:        "set_room_mode",
			Description: "Set the HVAC mode for a room.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]PropertySchema{
					"room_name": {Type: "string"},
					"mode":      {Type: "string", Enum: []string{"heating", "cooling", "auto", "off", "fan_only", "dehumidify", "eco"}},
				},
				Required: []string{"room_name", "mode"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
			roomName, _ := args["room_name"].(string)
			mode, _ := args["mode"].(string)

			agg, err := deps.Fanout.Dispatch(ctx, fanout.Request{
				Scope: fanout.ScopeRoom, Target: roomName, Category: models.CategoryClimate,
				Command: fmt.Sprintf("mode/%s", mode),
			})
			if err != nil {
				return ErrorResult("%v", err), nil
			}

			response := map[string]interface{}{"result": agg}
			if warning := quietHoursWarning(deps, roomName); warning != "" {
				response["warning"] = warning
			}
			return asJSON(response), nil
		},
	})
}

// quietHoursWarning attaches a warning — never a rejection — to a control
// action that executes during the room's zone quiet-hours window.
func quietHoursWarning(deps Deps, roomName string) string {
	if deps.Zones == nil {
		return ""
	}
	room, ok := deps.Structure.RoomByName(roomName)
	if !ok {
		return ""
	}
	zoneID, ok := deps.Zones.ZoneForRoom(room.UUID)
	if !ok {
		return ""
	}
	zone, ok := deps.Zones.Zone(zoneID)
	if !ok || zone.Constraints.QuietHours == nil {
		return ""
	}
	if inQuietHours(zone.Constraints.QuietHours, time.Now()) {
		return fmt.Sprintf("zone %q is within its quiet hours window", zone.Name)
	}
	return ""
}

func inQuietHours(qh *models.QuietHours, now time.Time) bool {
	start, err1 := time.Parse("15:04", qh.Start)
	end, err2 := time.Parse("15:04", qh.End)
	if err1 != nil || err2 != nil {
		return false
	}
	current := now.Hour()*60 + now.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if startMin <= endMin {
		return current >= startMin && current < endMin
	}
	// window wraps past midnight
	return current >= startMin || current < endMin
}

func registerSensorHistory(r *Registry, deps Deps) {
	r.Register(RegisteredTool{
		Definition: Tool{
			Name:        "get_sensor_state_history",
			Description: "Return the bounded recorded history for one sensor.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"uuid": {Type: "string"}},
				Required:   []string{"uuid"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
			uuid, _ := args["uuid"].(string)
			hist, ok := deps.Journal.History(uuid)
			if !ok {
				return asJSON(map[string]interface{}{"empty_context": fmt.Sprintf("no history for %q", uuid)}), nil
			}
			return asJSON(hist), nil
		},
	})
}

func registerDoorWindowActivity(r *Registry, deps Deps) {
	r.Register(RegisteredTool{
		Definition: Tool{
			Name:        "get_door_window_activity",
			Description: "Aggregate door/window open and close counts over a recent window.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]PropertySchema{"hours": {Type: "number", Description: "default 24"}},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
			hours := 24
			if h, ok := args["hours"].(float64); ok && h > 0 {
				hours = int(h)
			}
			return asJSON(deps.Journal.DoorWindowActivity(hours)), nil
		},
	})
}

func registerHealthCheck(r *Registry, deps Deps) {
	handler := func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
		status := "ok"
		var errMsg string
		if err := deps.Client.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			errMsg = err.Error()
		}
		stats := deps.Structure.Stats()
		resp := map[string]interface{}{
			"status":  status,
			"devices": stats.DeviceCount,
			"rooms":   stats.RoomCount,
		}
		if errMsg != "" {
			resp["error"] = errMsg
		}
		return asJSON(resp), nil
	}
	r.Register(RegisteredTool{
		Definition: Tool{Name: "get_health_check", Description: "Combined device-controller and structure-cache health.", InputSchema: InputSchema{Type: "object", Properties: map[string]PropertySchema{}}},
		Handler:    handler,
	})
	r.Register(RegisteredTool{
		Definition: Tool{Name: "get_health_status", Description: "Alias of get_health_check.", InputSchema: InputSchema{Type: "object", Properties: map[string]PropertySchema{}}},
		Handler:    handler,
	})
}

// registerLegacyAliases wires the legacy tool names as thin aliases that
// synthesize scope and dispatch to the unified tool.
func registerLegacyAliases(r *Registry) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Alias("control_lights_unified", Tool{
		Name:        "control_all_lights",
		Description: "Legacy alias: turn all lights on/off.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]PropertySchema{"action": {Type: "string", Enum: []string{"on", "off"}}}, Required: []string{"action"}},
	}, func(args map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"scope": "all", "action": args["action"]}
	}))

	must(r.Alias("control_rolladen_unified", Tool{
		Name:        "control_room_rolladen",
		Description: "Legacy alias: control blinds in one room.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]PropertySchema{
				"room_name": {Type: "string"},
				"action":    {Type: "string", Enum: []string{"up", "down", "stop", "position"}},
				"position":  {Type: "number"},
			},
			Required: []string{"room_name", "action"},
		},
	}, func(args map[string]interface{}) map[string]interface{} {
		out := map[string]interface{}{"scope": "room", "target": args["room_name"], "action": args["action"]}
		if p, ok := args["position"]; ok {
			out["position"] = p
		}
		return out
	}))

	must(r.Alias("control_lights_unified", Tool{
		Name:        "control_room_lights",
		Description: "Legacy alias: control lights in one room.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]PropertySchema{
				"room_name":  {Type: "string"},
				"action":     {Type: "string", Enum: []string{"on", "off", "dim"}},
				"brightness": {Type: "number"},
			},
			Required: []string{"room_name", "action"},
		},
	}, func(args map[string]interface{}) map[string]interface{} {
		out := map[string]interface{}{"scope": "room", "target": args["room_name"], "action": args["action"]}
		if b, ok := args["brightness"]; ok {
			out["brightness"] = b
		}
		return out
	}))
}
