package relay

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Polzer1999/remix-of-automate-qualifier/internal/enrichment"
)

type EventType string

const (
	EventReferenceCalls EventType = "reference_calls"
	EventDelta          EventType = "delta"
	EventDone           EventType = "done"
)

// Event is one item of the client stream. Only the field matching Type is
// used.
type Event struct {
	Type       EventType
	References []enrichment.ReferenceMeta
	Text       string
}

// EncodeEvent renders ev in the gateway's own SSE shape so that a single
// client parser handles both side-channel and model events.
func EncodeEvent(ev Event) ([]byte, error) {
	var payload any
	switch ev.Type {
	case EventReferenceCalls:
		refs := ev.References
		if refs == nil {
			refs = []enrichment.ReferenceMeta{}
		}
		payload = map[string]any{"reference_calls": refs}
	case EventDelta:
		payload = openai.ChatCompletionStreamResponse{
			Object: "chat.completion.chunk",
			Choices: []openai.ChatCompletionStreamChoice{
				{Delta: openai.ChatCompletionStreamChoiceDelta{Content: ev.Text}},
			},
		}
	case EventDone:
		return []byte("data: " + doneSentinel + "\n\n"), nil
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}
