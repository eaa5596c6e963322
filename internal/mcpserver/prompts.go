package mcpserver

import "fmt"

// PromptSet holds the façade's static prompt templates. MCP prompts are a
// thin convenience layer here — canned phrasing for the kind of request an
// assistant client commonly issues against this control plane — not a new
// source of truth.
type PromptSet struct {
	prompts map[string]promptTemplate
}

type promptTemplate struct {
	def      Prompt
	build    func(args map[string]string) []PromptMessage
}

// DefaultPrompts ships a room-status summary and a bedtime/quiet-hours
// routine, the two request shapes an assistant phrases most often against
// this tool surface.
func DefaultPrompts() *PromptSet {
	ps := &PromptSet{prompts: make(map[string]promptTemplate)}

	ps.prompts["room_status"] = promptTemplate{
		def: Prompt{
			Name:        "room_status",
			Description: "Summarize every device and sensor reading in one room.",
			Arguments: []PromptArgument{
				{Name: "room_name", Description: "Exact room name", Required: true},
			},
		},
		build: func(args map[string]string) []PromptMessage {
			room := args["room_name"]
			return []PromptMessage{{
				Role: "user",
				Content: textContent(fmt.Sprintf(
					"Summarize the current state of every device and sensor in %q: lighting, blinds, climate, and any open doors or motion.", room,
				)),
			}}
		},
	}

	ps.prompts["bedtime_routine"] = promptTemplate{
		def: Prompt{
			Name:        "bedtime_routine",
			Description: "Dim lights, lower blinds, and set a quiet-hours-safe temperature for a room.",
			Arguments: []PromptArgument{
				{Name: "room_name", Description: "Exact room name", Required: true},
			},
		},
		build: func(args map[string]string) []PromptMessage {
			room := args["room_name"]
			return []PromptMessage{{
				Role: "user",
				Content: textContent(fmt.Sprintf(
					"Run a bedtime routine for %q: dim the lights, lower the blinds, and set a comfortable sleeping temperature without exceeding the room's quiet-hours rate-of-change limit.", room,
				)),
			}}
		},
	}

	return ps
}

func (ps *PromptSet) List() []Prompt {
	out := make([]Prompt, 0, len(ps.prompts))
	for _, p := range ps.prompts {
		out = append(out, p.def)
	}
	return out
}

func (ps *PromptSet) Get(name string, args map[string]string) (GetPromptResult, bool) {
	t, ok := ps.prompts[name]
	if !ok {
		return GetPromptResult{}, false
	}
	return GetPromptResult{Description: t.def.Description, Messages: t.build(args)}, true
}
