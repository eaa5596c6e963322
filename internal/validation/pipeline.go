// Package validation runs requests through an ordered chain of schema,
// sanitizer, business-rule, and security validators that accumulate
// errors and warnings rather than short-circuiting, so a caller sees
// every problem with a request in one response.
package validation

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/models"
)

// Result is what every Validator returns; Pipeline.Run merges a sequence
// of these into one response.
type Result struct {
	IsValid   bool
	Errors    []Error
	Warnings  []Warning
	Sanitized map[string]interface{}
	Metadata  map[string]interface{}
}

// Merge combines other into r per the composition rule: errors and
// warnings accumulate, sanitized last-writer-wins, metadata merges,
// is_valid recomputed from the merged error set.
func (r *Result) Merge(other Result) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	if other.Sanitized != nil {
		r.Sanitized = other.Sanitized
	}
	if other.Metadata != nil {
		if r.Metadata == nil {
			r.Metadata = make(map[string]interface{})
		}
		for k, v := range other.Metadata {
			r.Metadata[k] = v
		}
	}
	r.IsValid = len(r.Errors) == 0
}

// Validator is one step in the chain. Implementations never panic
// outward — the pipeline recovers and reports a SchemaViolation naming the
// validator.
type Validator interface {
	Name() string
	Validate(ctx *models.ValidationContext, method string, args map[string]interface{}) Result
}

// Pipeline runs its validators in registration order without
// short-circuiting.
type Pipeline struct {
	validators []Validator
	log        zerolog.Logger
}

// New builds the standard schema -> sanitizer -> business rules -> security
// pipeline. Callers may also construct a Pipeline with a custom validator
// set via NewWithValidators for tests.
func New(schema *SchemaValidator, sanitizer *Sanitizer, business *BusinessRules, security *SecurityValidator) *Pipeline {
	return NewWithValidators([]Validator{schema, sanitizer, business, security})
}

func NewWithValidators(validators []Validator) *Pipeline {
	return &Pipeline{validators: validators, log: logging.Component("validation")}
}

// Run executes every validator, accumulating into a single merged Result.
func (p *Pipeline) Run(ctx *models.ValidationContext, method string, args map[string]interface{}) (result Result) {
	result = Result{IsValid: true, Sanitized: args}

	for _, v := range p.validators {
		step := p.runOne(v, ctx, method, result.Sanitized)
		result.Merge(step)
	}
	return result
}

func (p *Pipeline) runOne(v Validator, ctx *models.ValidationContext, method string, args map[string]interface{}) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("validator", v.Name()).Msg("validator panicked")
			result = Result{
				IsValid: false,
				Errors: []Error{{
					Field:    "",
					Code:     SchemaViolation,
					Expected: fmt.Sprintf("validator %q to complete without panicking", v.Name()),
					Actual:   fmt.Sprintf("%v", r),
				}},
			}
		}
	}()
	return v.Validate(ctx, method, args)
}
