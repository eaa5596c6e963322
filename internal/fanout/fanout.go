// Package fanout implements the Fan-Out Engine (C9): resolving a scoped
// target into a device set, issuing commands concurrently with bounded
// parallelism, and aggregating per-device outcomes.
package fanout

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loxone-mcp/control-plane/internal/deviceclient"
	"github.com/loxone-mcp/control-plane/internal/models"
	"github.com/loxone-mcp/control-plane/internal/validation"
	"github.com/loxone-mcp/control-plane/internal/zones"
)

// Scope selects how a fan-out target resolves to a device set.
type Scope string

const (
	ScopeDevice Scope = "device"
	ScopeRoom   Scope = "room"
	ScopeZone   Scope = "zone"
	ScopeAll    Scope = "all"
)

// Structure is the subset of the Structure Cache the engine depends on.
type Structure interface {
	Device(uuid string) (models.Device, bool)
	DeviceByName(name, roomHint string) (models.Device, bool)
	RoomByName(name string) (models.Room, bool)
	DevicesInRoom(roomUUID string) []models.Device
	DevicesByCategory(cat models.Category) []models.Device
}

// Client is the subset of the Device Client the engine depends on.
type Client interface {
	SendCommand(ctx context.Context, uuid, command string) (deviceclient.CommandResult, error)
}

// DeviceResult is one device's outcome within an aggregated response.
type DeviceResult struct {
	Device        string
	UUID          string
	Success       bool
	PreviousState interface{} `json:"previous_state,omitempty"`
	Response      string      `json:"response,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Aggregate is the fan-out result envelope. Partial failure is itself a
// success outcome at the protocol level; callers inspect the per-device
// breakdown.
type Aggregate struct {
	Total      int
	Successful int
	Failed     int
	Results    []DeviceResult
	// EmptyContext is set for the empty-device-set edge case, naming the
	// category/scope that resolved to nothing.
	EmptyContext string `json:"empty_context,omitempty"`
}

// Request describes one fan-out call.
type Request struct {
	Scope        Scope
	Target       string // room name, zone id, device uuid/name; unused for scope=all
	Category     models.Category
	Command      string
	RoomHint     string // optional room name biasing scope=device name matches
	NameContains string // optional device-name substring filter
}

// MaxConcurrency bounds simultaneous device commands so a scope=all
// dispatch cannot stampede the controller.
const MaxConcurrency = 16

// Engine ties the Structure Cache, Device Client, and zone registry
// together to resolve and dispatch fan-out requests.
type Engine struct {
	structure Structure
	client    Client
	zones     *zones.Registry
}

func New(structure Structure, client Client, zoneRegistry *zones.Registry) *Engine {
	return &Engine{structure: structure, client: client, zones: zoneRegistry}
}

// Resolve expands (scope, target, category) into the device set a
// Dispatch call would act on.
func (e *Engine) Resolve(req Request) ([]models.Device, error) {
	var devices []models.Device

	switch req.Scope {
	case ScopeDevice:
		if d, ok := e.structure.Device(req.Target); ok {
			devices = []models.Device{d}
			break
		}
		hint := ""
		if req.RoomHint != "" {
			if room, ok := e.structure.RoomByName(req.RoomHint); ok {
				hint = room.UUID
			}
		}
		d, ok := e.structure.DeviceByName(req.Target, hint)
		if !ok {
			return nil, &AmbiguousOrMissingError{Target: req.Target}
		}
		devices = []models.Device{d}

	case ScopeRoom:
		room, ok := e.structure.RoomByName(req.Target)
		if !ok {
			return nil, nil // empty-with-context, not an error
		}
		for _, d := range e.structure.DevicesInRoom(room.UUID) {
			if d.Category == req.Category {
				devices = append(devices, d)
			}
		}

	case ScopeZone:
		if e.zones == nil {
			return nil, nil
		}
		roomUUIDs := e.zones.RoomsInZone(req.Target)
		for _, roomUUID := range roomUUIDs {
			for _, d := range e.structure.DevicesInRoom(roomUUID) {
				if d.Category == req.Category {
					devices = append(devices, d)
				}
			}
		}

	case ScopeAll:
		devices = e.structure.DevicesByCategory(req.Category)

	default:
		return nil, fmt.Errorf("unknown scope %q", req.Scope)
	}

	if req.NameContains != "" {
		devices = filterByName(devices, req.NameContains)
	}
	return devices, nil
}

func filterByName(devices []models.Device, substr string) []models.Device {
	substr = strings.ToLower(substr)
	var out []models.Device
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), substr) {
			out = append(out, d)
		}
	}
	return out
}

// AmbiguousOrMissingError is returned by Resolve for scope=device when the
// target doesn't resolve to exactly one device.
type AmbiguousOrMissingError struct {
	Target string
}

func (e *AmbiguousOrMissingError) Error() string {
	return fmt.Sprintf("device target %q is ambiguous or unknown", e.Target)
}

// ErrorCode satisfies the validation package's error taxonomy so callers
// can surface this as InvalidFormat.
func (e *AmbiguousOrMissingError) ErrorCode() validation.ErrorCode {
	return validation.InvalidFormat
}

// Dispatch resolves req and issues Command concurrently against the
// resolved device set, bounded by MaxConcurrency.
func (e *Engine) Dispatch(ctx context.Context, req Request) (Aggregate, error) {
	devices, err := e.Resolve(req)
	if err != nil {
		return Aggregate{}, err
	}
	if len(devices) == 0 {
		return Aggregate{EmptyContext: fmt.Sprintf("category=%s scope=%s", req.Category, req.Scope)}, nil
	}

	results := make([]DeviceResult, len(devices))
	var mu sync.Mutex
	successCount := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrency)

	for i, d := range devices {
		i, d := i, d
		g.Go(func() error {
			res, err := e.client.SendCommand(gctx, d.UUID, req.Command)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[i] = DeviceResult{Device: d.Name, UUID: d.UUID, Success: false, Error: err.Error()}
				return nil // partial failure never aborts the group
			}
			results[i] = DeviceResult{
				Device: d.Name, UUID: d.UUID, Success: true,
				PreviousState: res.PreviousState, Response: res.Response,
			}
			successCount++
			return nil
		})
	}
	// errgroup.Wait only returns non-nil if a Go func returned an error,
	// which this loop never does: failures are captured per-device instead.
	_ = g.Wait()

	return Aggregate{
		Total:      len(devices),
		Successful: successCount,
		Failed:     len(devices) - successCount,
		Results:    results,
	}, nil
}
