// Package tools routes tool calls: a registry of {name, schema, handler}
// records dispatching each call_tool request to the right fan-out
// routine.
package tools

import (
	"context"
	"fmt"
)

// PropertySchema describes one JSON-schema property of a tool's input.
type PropertySchema struct {
	Type        string
	Description string
	Enum        []string `json:",omitempty"`
}

// InputSchema is a tool's full argument schema, rendered to clients via
// list_tools.
type InputSchema struct {
	Type       string
	Properties map[string]PropertySchema
	Required   []string `json:",omitempty"`
}

// Tool is the client-facing descriptor returned by list_tools.
type Tool struct {
	Name        string
	Description string
	InputSchema InputSchema
}

// ContentBlock is one piece of a CallToolResult's content, text or
// JSON-as-text.
type ContentBlock struct {
	Type string
	Text string
}

// CallToolResult is what every tool handler returns. IsError marks a
// tool-level failure that should still be encoded as content rather than a
// protocol error.
type CallToolResult struct {
	Content []ContentBlock
	IsError bool
}

// TextResult builds a single-block text result.
func TextResult(text string) CallToolResult {
	return CallToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult builds a single-block error result.
func ErrorResult(format string, args ...interface{}) CallToolResult {
	return CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// Handler executes one tool call. Handlers never return a transport-level
// error for a domain failure — they encode it in the result; a returned
// error signals the call was malformed beyond what validation caught.
type Handler func(ctx context.Context, args map[string]interface{}) (CallToolResult, error)

// RegisteredTool pairs a client-facing descriptor with its handler.
type RegisteredTool struct {
	Definition Tool
	Handler    Handler
}
