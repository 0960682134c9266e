// Package relay forwards an upstream completion stream to the client while
// reassembling the full response text.
package relay

import (
	"bytes"
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const doneSentinel = "[DONE]"

// Parser extracts text deltas from an SSE byte stream fed in arbitrary
// chunks. A line is only decoded once its terminating newline has arrived.
// Lines that are not valid JSON are skipped.
type Parser struct {
	pending []byte
	text    strings.Builder
	done    bool
}

func (p *Parser) Feed(chunk []byte) {
	p.pending = append(p.pending, chunk...)
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		p.line(p.pending[:i])
		p.pending = p.pending[i+1:]
	}
	if len(p.pending) == 0 {
		p.pending = nil
	}
}

// Flush decodes a trailing line that never received its newline.
func (p *Parser) Flush() {
	if len(p.pending) > 0 {
		p.line(p.pending)
		p.pending = nil
	}
}

// Text returns everything accumulated so far.
func (p *Parser) Text() string {
	return p.text.String()
}

// Done reports whether the [DONE] sentinel was seen.
func (p *Parser) Done() bool {
	return p.done
}

func (p *Parser) line(raw []byte) {
	raw = bytes.TrimRight(raw, "\r")
	payload, ok := bytes.CutPrefix(raw, []byte("data:"))
	if !ok {
		return
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return
	}
	if string(payload) == doneSentinel {
		p.done = true
		return
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return
	}
	if len(chunk.Choices) > 0 {
		p.text.WriteString(chunk.Choices[0].Delta.Content)
	}
}
