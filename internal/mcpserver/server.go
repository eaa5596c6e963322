package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/loxone-mcp/control-plane/internal/journal"
	"github.com/loxone-mcp/control-plane/internal/logging"
	"github.com/loxone-mcp/control-plane/internal/models"
	"github.com/loxone-mcp/control-plane/internal/ratelimit"
	"github.com/loxone-mcp/control-plane/internal/rescache"
	"github.com/loxone-mcp/control-plane/internal/structure"
	"github.com/loxone-mcp/control-plane/internal/tools"
	"github.com/loxone-mcp/control-plane/internal/validation"
	"github.com/loxone-mcp/control-plane/internal/zones"
)

// Deps bundles every collaborator the façade dispatches requests into.
type Deps struct {
	Structure *structure.Cache
	Journal   *journal.Journal
	Resources *rescache.Cache
	Limiter   *ratelimit.Limiter
	Pipeline  *validation.Pipeline
	Tools     *tools.Registry
	Zones     *zones.Registry
	Prompts   *PromptSet

	Name    string
	Version string
}

// Server is the Backend Façade: one JSON-RPC 2.0 endpoint dispatching into
// every other component. It holds no device-control state of its own.
type Server struct {
	deps Deps
	log  zerolog.Logger
}

func New(deps Deps) *Server {
	if deps.Prompts == nil {
		deps.Prompts = DefaultPrompts()
	}
	return &Server{deps: deps, log: logging.Component("mcpserver")}
}

// ServeHTTP implements the single JSON-RPC endpoint. Transport-level
// failures (bad JSON, unknown method) become RPCError responses; every
// tool-level failure is instead encoded as CallToolResult.IsError content.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrInvalidRequest, Message: "POST only"}})
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrParse, Message: err.Error()}})
		return
	}

	clientInfo := clientInfoFromRequest(r)
	resp := s.handleRequest(r.Context(), req, clientInfo)
	json.NewEncoder(w).Encode(resp)
}

func clientInfoFromRequest(r *http.Request) *models.ClientInfo {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = fwd
	}
	return &models.ClientInfo{
		IP:        ip,
		UserAgent: r.Header.Get("User-Agent"),
		AuthLevel: 0,
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request, client *models.ClientInfo) Response {
	result, rpcErr := s.handleMethod(ctx, req.Method, req.Params, client)
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &RPCError{Code: ErrInternal, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}

func (s *Server) handleMethod(ctx context.Context, method string, params json.RawMessage, client *models.ClientInfo) (interface{}, *RPCError) {
	switch method {
	case "initialize":
		return s.handleInitialize(params)
	case "initialized", "notifications/initialized":
		return struct{}{}, nil
	case "tools/list":
		return s.handleListTools(params)
	case "tools/call":
		return s.handleCallTool(ctx, params, client)
	case "resources/list":
		return s.handleListResources(), nil
	case "resources/templates/list":
		return s.handleListResourceTemplates(), nil
	case "resources/read":
		return s.handleReadResource(params)
	case "resources/subscribe":
		return s.handleSubscribe(params)
	case "resources/unsubscribe":
		return s.handleUnsubscribe(params)
	case "prompts/list":
		return s.handleListPrompts(), nil
	case "prompts/get":
		return s.handleGetPrompt(params)
	case "completion/complete":
		return s.handleComplete(params)
	case "logging/setLevel":
		return s.handleSetLevel(params)
	default:
		return nil, &RPCError{Code: ErrMethodNotFound, Message: fmt.Sprintf("unknown method %q", method)}
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (interface{}, *RPCError) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
		}
	}
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{Subscribe: true},
			Prompts:   &PromptsCapability{},
			Logging:   &struct{}{},
		},
		ServerInfo: ServerInfo{Name: s.deps.Name, Version: s.deps.Version},
	}, nil
}

// toolPageSize bounds one tools/list page. The registry is sorted by name,
// so the cursor is simply the name to resume after.
const toolPageSize = 50

func (s *Server) handleListTools(params json.RawMessage) (interface{}, *RPCError) {
	var p ListToolsParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
		}
	}

	defs := s.deps.Tools.ListTools()
	start := 0
	if p.Cursor != "" {
		for i, t := range defs {
			if t.Name > p.Cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := start + toolPageSize
	if end > len(defs) {
		end = len(defs)
	}
	out := make([]Tool, 0, end-start)
	for _, t := range defs[start:end] {
		out = append(out, convertTool(t))
	}

	result := ListToolsResult{Tools: out}
	if end < len(defs) {
		result.NextCursor = defs[end-1].Name
	}
	return result, nil
}

func convertTool(t tools.Tool) Tool {
	props := make(map[string]PropertySchema, len(t.InputSchema.Properties))
	for k, v := range t.InputSchema.Properties {
		props[k] = PropertySchema{Type: v.Type, Description: v.Description, Enum: v.Enum}
	}
	return Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: InputSchema{Type: t.InputSchema.Type, Properties: props, Required: t.InputSchema.Required},
	}
}

// handleCallTool runs a tool call through validation, then admission,
// then dispatch. Validation and rate-limit rejections are reported as
// CallToolResult.IsError content, never as an RPCError — only a malformed
// envelope reaches that path.
func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage, client *models.ClientInfo) (interface{}, *RPCError) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	if p.Name == "" {
		return nil, &RPCError{Code: ErrInvalidParams, Message: "missing tool name"}
	}

	requestID := uuid.NewString()
	logger := s.log.With().Str("request_id", requestID).Str("tool", p.Name).Logger()

	vctx := &models.ValidationContext{
		RequestID:  requestID,
		ClientInfo: client,
		Timestamp:  time.Now(),
		Config:     models.DefaultValidationConfig(),
	}
	if s.deps.Pipeline != nil {
		result := s.deps.Pipeline.Run(vctx, p.Name, p.Arguments)
		if !result.IsValid {
			logger.Debug().Int("errors", len(result.Errors)).Msg("tool call rejected by validation")
			return convertResult(tools.ErrorResult("validation failed: %s", formatValidationErrors(result.Errors))), nil
		}
		if result.Sanitized != nil {
			p.Arguments = result.Sanitized
		}
	}

	if s.deps.Limiter != nil {
		key := rateLimitKey(client, p.Name)
		decision := s.deps.Limiter.Allow(key)
		if decision.Outcome == ratelimit.Limited {
			logger.Debug().Msg("tool call rate limited")
			return convertResult(tools.ErrorResult("rate limited: %s", ratelimit.Reason(decision))), nil
		}
	}

	out, err := s.deps.Tools.Execute(ctx, p.Name, p.Arguments)
	if err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	logger.Debug().Bool("is_error", out.IsError).Msg("tool call completed")
	return convertResult(out), nil
}

func rateLimitKey(client *models.ClientInfo, tool string) string {
	if client == nil {
		return ratelimit.ByTool("anonymous", tool)
	}
	if client.ID != "" {
		return ratelimit.ByTool(client.ID, tool)
	}
	return ratelimit.ByIP(client.IP)
}

func formatValidationErrors(errs []validation.Error) string {
	if len(errs) == 0 {
		return "unknown validation failure"
	}
	msg := errs[0].Field + ": expected " + errs[0].Expected + ", got " + errs[0].Actual
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
	}
	return msg
}

func convertResult(r tools.CallToolResult) CallToolResult {
	content := make([]Content, 0, len(r.Content))
	for _, c := range r.Content {
		content = append(content, Content{Type: c.Type, Text: c.Text})
	}
	return CallToolResult{Content: content, IsError: r.IsError}
}

func (s *Server) handleListResources() ListResourcesResult {
	return ListResourcesResult{Resources: StaticResources()}
}

func (s *Server) handleListResourceTemplates() ListResourceTemplatesResult {
	return ListResourceTemplatesResult{ResourceTemplates: ResourceTemplates()}
}

func (s *Server) handleReadResource(params json.RawMessage) (interface{}, *RPCError) {
	var p ReadResourceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	data, mime, err := s.deps.Resources.Read(p.URI)
	if err != nil {
		return nil, &RPCError{Code: ErrInternal, Message: err.Error()}
	}
	return ReadResourceResult{Contents: []ResourceContent{{URI: p.URI, MimeType: mime, Text: string(data)}}}, nil
}

func (s *Server) handleSubscribe(params json.RawMessage) (interface{}, *RPCError) {
	var p SubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	if err := s.deps.Resources.Subscribe(p.URI); err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	return struct{}{}, nil
}

func (s *Server) handleUnsubscribe(params json.RawMessage) (interface{}, *RPCError) {
	var p SubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	s.deps.Resources.Unsubscribe(p.URI)
	return struct{}{}, nil
}

func (s *Server) handleListPrompts() ListPromptsResult {
	return ListPromptsResult{Prompts: s.deps.Prompts.List()}
}

func (s *Server) handleGetPrompt(params json.RawMessage) (interface{}, *RPCError) {
	var p GetPromptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	result, ok := s.deps.Prompts.Get(p.Name, p.Arguments)
	if !ok {
		return nil, &RPCError{Code: ErrInvalidParams, Message: fmt.Sprintf("unknown prompt %q", p.Name)}
	}
	return result, nil
}

// handleComplete serves completion candidates for room names, device
// types, and sensor types. It is a convenience surface over the structure
// cache, not a new source of truth.
func (s *Server) handleComplete(params json.RawMessage) (interface{}, *RPCError) {
	var p CompleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}

	var candidates []string
	switch p.Argument.Name {
	case "room_name":
		for _, r := range s.deps.Structure.Rooms() {
			candidates = append(candidates, r.Name)
		}
	case "device_type":
		candidates = []string{"lighting", "blinds", "climate", "sensors", "audio", "security"}
	case "sensor_type":
		candidates = []string{"temperature", "door_window", "motion"}
	}

	filtered := filterPrefix(candidates, p.Argument.Value)
	const maxReturned = 100
	hasMore := len(filtered) > maxReturned
	if hasMore {
		filtered = filtered[:maxReturned]
	}
	return CompleteResult{Completion: CompletionValues{Values: filtered, Total: len(filtered), HasMore: hasMore}}, nil
}

func filterPrefix(candidates []string, prefix string) []string {
	if prefix == "" {
		return candidates
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if len(c) >= len(prefix) && equalFoldPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func equalFoldPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

func (s *Server) handleSetLevel(params json.RawMessage) (interface{}, *RPCError) {
	var p SetLevelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	level, err := logging.ParseLevel(p.Level)
	if err != nil {
		return nil, &RPCError{Code: ErrInvalidParams, Message: err.Error()}
	}
	logging.SetLevel(level)
	return struct{}{}, nil
}
