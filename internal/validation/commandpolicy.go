package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// CommandPolicy is a tiered, regex-based allow/deny gate over the raw
// command strings the fan-out engine eventually hands to the device
// client (e.g. "on", "position/75", "setpoint/21.5"): known verbs pass,
// unknown ones are flagged, and injection shapes are blocked outright.
type CommandPolicy struct {
	AutoApprove     []string
	RequireApproval []string
	Blocked         []string

	autoApproveRe     []*regexp.Regexp
	requireApprovalRe []*regexp.Regexp
	blockedRe         []*regexp.Regexp
}

// PolicyDecision is the policy's verdict for one command string.
type PolicyDecision string

const (
	PolicyAllow           PolicyDecision = "allow"
	PolicyRequireApproval PolicyDecision = "require_approval"
	PolicyBlock           PolicyDecision = "block"
)

// DefaultCommandPolicy allow-lists the command verbs the built-in tools
// actually issue, flags anything resembling an embedded secondary command
// as needing approval, and blocks known injection shapes outright.
func DefaultCommandPolicy() *CommandPolicy {
	p := &CommandPolicy{
		AutoApprove: []string{
			`^on$`, `^off$`,
			`^up$`, `^down$`, `^stop$`,
			`^position$`, `^dim$`,
			`^position/\d{1,3}(\.\d+)?$`,
			`^dim/\d{1,3}(\.\d+)?$`,
			`^setpoint/-?\d{1,3}(\.\d+)?$`,
			`^mode/[a-z_]+$`,
			`^fan/[a-z]+$`,
		},
		RequireApproval: []string{
			`^raw/`,
			`^jdev/`,
		},
		Blocked: []string{
			`[;&|]`,
			"`",
			`\$\(`,
			`\.\./`,
			`(?i)<script`,
		},
	}
	p.compile()
	return p
}

func (p *CommandPolicy) compile() {
	p.autoApproveRe = compileCommandPatterns(p.AutoApprove)
	p.requireApprovalRe = compileCommandPatterns(p.RequireApproval)
	p.blockedRe = compileCommandPatterns(p.Blocked)
}

func compileCommandPatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

// Evaluate classifies command, checking blocked patterns first regardless
// of whether it also matches an auto-approve pattern.
func (p *CommandPolicy) Evaluate(command string) PolicyDecision {
	command = strings.TrimSpace(command)

	for _, re := range p.blockedRe {
		if re.MatchString(command) {
			return PolicyBlock
		}
	}
	for _, re := range p.requireApprovalRe {
		if re.MatchString(command) {
			return PolicyRequireApproval
		}
	}
	for _, re := range p.autoApproveRe {
		if re.MatchString(command) {
			return PolicyAllow
		}
	}
	return PolicyRequireApproval
}

// Name labels the policy. CommandPolicy has no Validate method and is not a
// Validator; it is composed into BusinessRules rather than registered as a
// standalone pipeline stage.
func (p *CommandPolicy) Name() string { return "command_policy" }

// checkCommandPolicy is the business-rules sub-rule that gates the
// "action"/"command" arguments fan-out tools accept. A blocked command is a
// SecurityViolation; one that merely requires approval is surfaced as a
// warning since this core has no human-in-the-loop approval flow to route
// it through.
func (p *CommandPolicy) checkCommandPolicy(args map[string]interface{}, result *Result) {
	for _, field := range []string{"action", "command"} {
		raw, ok := args[field].(string)
		if !ok || raw == "" {
			continue
		}
		switch p.Evaluate(raw) {
		case PolicyBlock:
			result.Errors = append(result.Errors, Error{
				Field: field, Code: SecurityViolation,
				Expected: "a recognized device command verb", Actual: raw,
			})
		case PolicyRequireApproval:
			result.Warnings = append(result.Warnings, Warning{
				Field: field, Code: SecurityConcern,
				Message: fmt.Sprintf("command %q is outside the known device-verb set", raw),
			})
		}
	}
}
