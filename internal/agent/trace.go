package agent

import (
	"github.com/firebase/genkit/go/ai"
)

// ToolInvocation is one observed tool call and its result. The trace is
// informational only and never persisted.
type ToolInvocation struct {
	Tool   string `json:"tool"`
	Input  any    `json:"input,omitempty"`
	Output any    `json:"output,omitempty"`
}

// ExtractTrace walks the final request's message log and pairs tool requests
// with their responses, preserving call order. Responses match the earliest
// unmatched request with the same ref, falling back to the same name.
func ExtractTrace(msgs []*ai.Message) []ToolInvocation {
	type pending struct {
		index int
		ref   string
		name  string
	}

	var (
		trace   []ToolInvocation
		waiting []pending
	)

	for _, msg := range msgs {
		for _, part := range msg.Content {
			if part == nil {
				continue
			}
			switch {
			case part.IsToolRequest():
				req := part.ToolRequest
				trace = append(trace, ToolInvocation{Tool: req.Name, Input: req.Input})
				waiting = append(waiting, pending{
					index: len(trace) - 1,
					ref:   req.Ref,
					name:  req.Name,
				})
			case part.IsToolResponse():
				resp := part.ToolResponse
				for i, p := range waiting {
					if (resp.Ref != "" && p.ref == resp.Ref) ||
						(resp.Ref == "" && p.name == resp.Name) {
						trace[p.index].Output = resp.Output
						waiting = append(waiting[:i], waiting[i+1:]...)
						break
					}
				}
			}
		}
	}
	return trace
}
