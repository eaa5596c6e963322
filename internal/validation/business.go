package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loxone-mcp/control-plane/internal/models"
)

var deviceUUIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{6}-[0-9a-fA-F]{3}$`)
var roomNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)
var resourceSchemePattern = regexp.MustCompile(`^(public|config|system|admin):`)

// AuthRequirement maps a method name to the minimum ClientInfo.AuthLevel it
// requires.
type AuthRequirement struct {
	Method string
	Level  int
}

// RateLimitMultiplier scales the baseline rate-limit budget for expensive
// methods.
type RateLimitMultiplier struct {
	Method     string
	Multiplier float64
}

// ResourceAuthGate maps a URI scheme to its minimum auth level.
type ResourceAuthGate struct {
	Scheme string
	Level  int
}

// BusinessRules runs authorization, rate-limit adherence, resource access,
// and domain-specific format checks. Each sub-rule is independent; one
// failing does not suppress another.
type BusinessRules struct {
	authRequirements map[string]int
	rateMultipliers  map[string]float64
	resourceGates    map[string]int
	commandPolicy    *CommandPolicy
}

// DefaultAuthRequirements gates nothing by default: a home installation
// runs every tool at auth level 0, and deployments that front the server
// with an authenticating proxy raise levels per method.
func DefaultAuthRequirements() []AuthRequirement {
	return nil
}

// DefaultRateLimitMultipliers constrains the expensive fan-out tools to a
// fraction of the baseline budget.
func DefaultRateLimitMultipliers() []RateLimitMultiplier {
	return []RateLimitMultiplier{
		{Method: "control_rolladen_unified", Multiplier: 0.5},
		{Method: "control_lights_unified", Multiplier: 0.5},
		{Method: "control_all_lights", Multiplier: 0.1},
	}
}

// DefaultResourceGates requires elevated callers for the system: and
// admin: URI schemes; public: and config: stay open.
func DefaultResourceGates() []ResourceAuthGate {
	return []ResourceAuthGate{
		{Scheme: "system", Level: 1},
		{Scheme: "admin", Level: 2},
	}
}

func NewBusinessRules(auth []AuthRequirement, multipliers []RateLimitMultiplier, gates []ResourceAuthGate) *BusinessRules {
	b := &BusinessRules{
		authRequirements: make(map[string]int, len(auth)),
		rateMultipliers:  make(map[string]float64, len(multipliers)),
		resourceGates:    make(map[string]int, len(gates)),
		commandPolicy:    DefaultCommandPolicy(),
	}
	for _, a := range auth {
		b.authRequirements[a.Method] = a.Level
	}
	for _, m := range multipliers {
		b.rateMultipliers[m.Method] = m.Multiplier
	}
	for _, g := range gates {
		b.resourceGates[g.Scheme] = g.Level
	}
	return b
}

func (b *BusinessRules) Name() string { return "business_rules" }

func (b *BusinessRules) Validate(ctx *models.ValidationContext, method string, args map[string]interface{}) Result {
	result := Result{IsValid: true, Sanitized: args}

	b.checkAuthorization(ctx, method, &result)
	b.checkRateLimitAdherence(ctx, method, &result)
	b.checkResourceAccess(ctx, args, &result)
	checkDomainSpecific(args, &result)
	b.commandPolicy.checkCommandPolicy(args, &result)

	result.IsValid = len(result.Errors) == 0
	return result
}

func (b *BusinessRules) checkAuthorization(ctx *models.ValidationContext, method string, result *Result) {
	required, ok := b.authRequirements[method]
	if !ok {
		return
	}
	level := 0
	if ctx.ClientInfo != nil {
		level = ctx.ClientInfo.AuthLevel
	}
	if level < required {
		result.Errors = append(result.Errors, Error{
			Field:    "method",
			Code:     SecurityViolation,
			Expected: fmt.Sprintf("auth_level >= %d", required),
			Actual:   fmt.Sprintf("%d", level),
		})
	}
}

func (b *BusinessRules) checkRateLimitAdherence(ctx *models.ValidationContext, method string, result *Result) {
	multiplier, ok := b.rateMultipliers[method]
	if !ok || ctx.ClientInfo == nil || ctx.ClientInfo.RateLimitInfo == nil {
		return
	}
	remaining, ok := ctx.ClientInfo.RateLimitInfo["remaining_ratio"].(float64)
	if !ok {
		return
	}
	if remaining < multiplier {
		result.Warnings = append(result.Warnings, Warning{
			Field: "method", Code: PerformanceImpact,
			Message: fmt.Sprintf("%s is rate-budget constrained to %.0f%% of baseline", method, multiplier*100),
		})
	}
}

func (b *BusinessRules) checkResourceAccess(ctx *models.ValidationContext, args map[string]interface{}, result *Result) {
	uri, ok := args["uri"].(string)
	if !ok {
		return
	}
	m := resourceSchemePattern.FindStringSubmatch(uri)
	if m == nil {
		return
	}
	required, ok := b.resourceGates[m[1]]
	if !ok {
		return
	}
	level := 0
	if ctx.ClientInfo != nil {
		level = ctx.ClientInfo.AuthLevel
	}
	if level < required {
		result.Errors = append(result.Errors, Error{
			Field: "uri", Code: SecurityViolation,
			Expected: fmt.Sprintf("auth_level >= %d for scheme %q", required, m[1]),
			Actual:   fmt.Sprintf("%d", level),
		})
	}
}

// looksLikeUUID reports whether s has the three-hyphen-group shape of a
// device UUID, regardless of whether the groups are valid hex.
func looksLikeUUID(s string) bool {
	parts := strings.Split(s, "-")
	return len(parts) == 3 && len(parts[0]) == 8 && len(parts[1]) == 6 && len(parts[2]) == 3
}

func checkDomainSpecific(args map[string]interface{}, result *Result) {
	if uuid, ok := args["uuid"].(string); ok && !deviceUUIDPattern.MatchString(uuid) {
		result.Errors = append(result.Errors, Error{
			Field: "uuid", Code: InvalidFormat,
			Expected: "XXXXXXXX-XXXXXX-XXX (hex groups)", Actual: uuid,
		})
	}
	// device_id may be a UUID or an exact device name, so only values that
	// look like a UUID attempt get the format check.
	if id, ok := args["device_id"].(string); ok && looksLikeUUID(id) && !deviceUUIDPattern.MatchString(id) {
		result.Errors = append(result.Errors, Error{
			Field: "device_id", Code: InvalidFormat,
			Expected: "XXXXXXXX-XXXXXX-XXX (hex groups)", Actual: id,
		})
	}
	if room, ok := args["room_name"].(string); ok && !roomNamePattern.MatchString(room) {
		result.Errors = append(result.Errors, Error{
			Field: "room_name", Code: InvalidFormat,
			Expected: "alphanumeric, space, underscore, hyphen", Actual: room,
		})
	}
	if room, ok := args["room"].(string); ok && !roomNamePattern.MatchString(room) {
		result.Errors = append(result.Errors, Error{
			Field: "room", Code: InvalidFormat,
			Expected: "alphanumeric, space, underscore, hyphen", Actual: room,
		})
	}
	if pos, ok := args["position"].(float64); ok && (pos < 0 || pos > 100) {
		result.Errors = append(result.Errors, Error{
			Field: "position", Code: OutOfRange,
			Expected: "0 <= position <= 100", Actual: fmt.Sprintf("%g", pos),
		})
	}
	if temp, ok := args["temperature"].(float64); ok && (temp < 5 || temp > 35) {
		result.Errors = append(result.Errors, Error{
			Field: "temperature", Code: OutOfRange,
			Expected: "5 <= temperature <= 35", Actual: fmt.Sprintf("%g", temp),
		})
	}
}
