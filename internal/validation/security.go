package validation

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/loxone-mcp/control-plane/internal/models"
)

var suspiciousSubstrings = regexp.MustCompile(`(?i)(\bexec\b|\beval\b|\bsystem\(|base64_decode|<\?php)`)

// SecurityValidator enforces the coarse-grained request defenses: total
// serialized size, object depth, property count, and a
// suspicious-substring scan independent of the sanitizer's
// malicious-pattern set.
type SecurityValidator struct {
	cfg models.ValidationConfig
}

func NewSecurityValidator(cfg models.ValidationConfig) *SecurityValidator {
	return &SecurityValidator{cfg: cfg}
}

func (s *SecurityValidator) Name() string { return "security" }

func (s *SecurityValidator) Validate(ctx *models.ValidationContext, method string, args map[string]interface{}) Result {
	result := Result{IsValid: true, Sanitized: args}

	encoded, err := json.Marshal(args)
	if err != nil {
		result.Errors = append(result.Errors, Error{
			Code: SchemaViolation, Expected: "serializable arguments", Actual: err.Error(),
		})
		result.IsValid = false
		return result
	}

	if len(encoded) > s.cfg.MaxRequestSize {
		result.Errors = append(result.Errors, Error{
			Code:     SecurityViolation,
			Expected: fmt.Sprintf("request size <= %d bytes", s.cfg.MaxRequestSize),
			Actual:   fmt.Sprintf("%d bytes", len(encoded)),
		})
	}

	if depth := objectDepth(args, 0); depth > s.cfg.MaxObjectDepth {
		result.Errors = append(result.Errors, Error{
			Code:     SecurityViolation,
			Expected: fmt.Sprintf("object depth <= %d", s.cfg.MaxObjectDepth),
			Actual:   fmt.Sprintf("%d", depth),
		})
	}

	if countProperties(args) > s.cfg.MaxObjectProperties {
		result.Errors = append(result.Errors, Error{
			Code:     SecurityViolation,
			Expected: fmt.Sprintf("object properties <= %d", s.cfg.MaxObjectProperties),
			Actual:   "too many properties",
		})
	}

	if suspiciousSubstrings.Match(encoded) {
		result.Errors = append(result.Errors, Error{
			Code: MaliciousContent, Expected: "no suspicious substrings", Actual: "matched suspicious-substring scan",
		})
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func objectDepth(v interface{}, current int) int {
	switch val := v.(type) {
	case map[string]interface{}:
		max := current
		for _, child := range val {
			if d := objectDepth(child, current+1); d > max {
				max = d
			}
		}
		return max
	case []interface{}:
		max := current
		for _, child := range val {
			if d := objectDepth(child, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}

func countProperties(args map[string]interface{}) int {
	count := 0
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case map[string]interface{}:
			count += len(val)
			for _, child := range val {
				walk(child)
			}
		case []interface{}:
			for _, child := range val {
				walk(child)
			}
		}
	}
	walk(args)
	return count
}
