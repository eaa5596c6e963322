// Package resolver implements the Value Resolver (C3): turning a device
// UUID into a ResolvedValue using the richest available source, with a
// confidence score that degrades from live to cached to inferred.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/deviceclient"
	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/models"
)

// Client is the subset of the Device Client the resolver depends on.
type Client interface {
	GetDeviceStates(ctx context.Context, uuids []string) (map[string]deviceclient.StateSample, error)
}

// CacheSource supplies a last-known value when a live fetch times out. The
// production Device Client satisfies this via CachedState.
type CacheSource interface {
	CachedState(uuid string) (deviceclient.StateSample, bool)
}

// Structure is the subset of the Structure Cache the resolver depends on.
type Structure interface {
	Device(uuid string) (models.Device, bool)
}

// Config tunes the live-fetch deadline.
type Config struct {
	LiveTimeout time.Duration // default 2s
}

func (c *Config) applyDefaults() {
	if c.LiveTimeout <= 0 {
		c.LiveTimeout = 2 * time.Second
	}
}

// Resolver is stateless aside from its collaborators; it never caches a
// ResolvedValue itself.
type Resolver struct {
	cfg       Config
	structure Structure
	client    Client
	cache     CacheSource
	log       zerolog.Logger
}

func New(structureCache Structure, client Client, cache CacheSource, cfg Config) *Resolver {
	cfg.applyDefaults()
	return &Resolver{
		cfg:       cfg,
		structure: structureCache,
		client:    client,
		cache:     cache,
		log:       logging.Component("resolver"),
	}
}

// Resolve turns uuid into a ResolvedValue: a live fetch first, then the
// last-known cached value, then a type-implied default, each step
// dropping the confidence score.
func (r *Resolver) Resolve(ctx context.Context, uuid string) models.ResolvedValue {
	device, ok := r.structure.Device(uuid)
	if !ok {
		return models.ResolvedValue{Source: models.SourceMissing, Confidence: 0, Timestamp: time.Now()}
	}

	liveCtx, cancel := context.WithTimeout(ctx, r.cfg.LiveTimeout)
	samples, err := r.client.GetDeviceStates(liveCtx, []string{uuid})
	cancel()

	if err == nil {
		if sample, ok := samples[uuid]; ok {
			return r.format(device, sample.Value, models.SourceLive, 0.95, sample.Timestamp)
		}
	} else {
		r.log.Debug().Err(err).Str("uuid", uuid).Msg("live fetch failed, falling back")
	}

	if r.cache != nil {
		if sample, ok := r.cache.CachedState(uuid); ok {
			return r.format(device, sample.Value, models.SourceCached, 0.5, sample.Timestamp)
		}
	}
	if cached, ok := device.States["value"]; ok {
		return r.format(device, cached, models.SourceCached, 0.5, time.Now())
	}

	if inferred, ok := inferDefault(device); ok {
		return r.format(device, inferred, models.SourceInferred, 0.3, time.Now())
	}

	return models.ResolvedValue{Source: models.SourceMissing, Confidence: 0, Timestamp: time.Now()}
}

// ResolveBatch issues one multi-UUID call, with per-UUID fallback to
// cached/inferred for anything the call didn't return. The result always
// has exactly one entry per requested UUID.
func (r *Resolver) ResolveBatch(ctx context.Context, uuids []string) map[string]models.ResolvedValue {
	result := make(map[string]models.ResolvedValue, len(uuids))
	if len(uuids) == 0 {
		return result
	}

	liveCtx, cancel := context.WithTimeout(ctx, r.cfg.LiveTimeout)
	samples, err := r.client.GetDeviceStates(liveCtx, uuids)
	cancel()
	if err != nil {
		r.log.Debug().Err(err).Msg("batch live fetch failed, falling back per uuid")
		samples = nil
	}

	for _, uuid := range uuids {
		device, ok := r.structure.Device(uuid)
		if !ok {
			result[uuid] = models.ResolvedValue{Source: models.SourceMissing, Confidence: 0, Timestamp: time.Now()}
			continue
		}

		if sample, ok := samples[uuid]; ok {
			result[uuid] = r.format(device, sample.Value, models.SourceLive, 0.95, sample.Timestamp)
			continue
		}

		if r.cache != nil {
			if sample, ok := r.cache.CachedState(uuid); ok {
				result[uuid] = r.format(device, sample.Value, models.SourceCached, 0.5, sample.Timestamp)
				continue
			}
		}
		if cached, ok := device.States["value"]; ok {
			result[uuid] = r.format(device, cached, models.SourceCached, 0.5, time.Now())
			continue
		}

		if inferred, ok := inferDefault(device); ok {
			result[uuid] = r.format(device, inferred, models.SourceInferred, 0.3, time.Now())
			continue
		}

		result[uuid] = models.ResolvedValue{Source: models.SourceMissing, Confidence: 0, Timestamp: time.Now()}
	}
	return result
}

// inferDefault supplies a default reading for device types whose semantics
// imply one even with zero data, e.g. a binary contact defaults closed.
func inferDefault(device models.Device) (interface{}, bool) {
	switch device.Category {
	case models.CategorySensors:
		if device.DeviceType == "door_window" || device.DeviceType == "motion" {
			return float64(0), true
		}
	}
	return nil, false
}

func (r *Resolver) format(device models.Device, raw interface{}, source models.ValueSource, confidence float64, ts time.Time) models.ResolvedValue {
	rv := models.ResolvedValue{Source: source, Confidence: confidence, Timestamp: ts}

	num, isNumeric := toFloat(raw)
	if !isNumeric {
		rv.FormattedValue = fmt.Sprintf("%v", raw)
		return rv
	}

	rv.NumericValue = &num
	unit, _ := device.States["unit"].(string)
	rv.Unit = unit

	switch {
	case device.DeviceType == "temperature":
		rv.FormattedValue = fmt.Sprintf("%.1f°C", num)
		if rv.Unit == "" {
			rv.Unit = "°C"
		}
	case unit == "%":
		rv.FormattedValue = fmt.Sprintf("%.1f%%", num)
	case unit != "":
		rv.FormattedValue = fmt.Sprintf("%g %s", num, unit)
	default:
		rv.FormattedValue = fmt.Sprintf("%g", num)
	}
	return rv
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
