package chat

import "strings"

const (
	ReasonEmail        = "email"
	ReasonMessageCount = "message_count"
)

// Policy decides, from a finished turn, whether the conversation is a
// qualified lead and whether the model produced a blueprint.
type Policy struct {
	// Threshold is the message count (assistant reply included) that must
	// be exceeded to qualify without a captured email.
	Threshold        int
	EmailMarker      string
	BlueprintMarkers []string
}

func DefaultPolicy(threshold int) Policy {
	return Policy{
		Threshold:        threshold,
		EmailMarker:      "@",
		BlueprintMarkers: []string{"blueprint", "plan prêt"},
	}
}

type Decision struct {
	Qualified bool
	Reason    string
	Blueprint bool
}

// Evaluate inspects the assistant response and the conversation size after
// it was stored. An email marker takes precedence over the count as reason.
func (p Policy) Evaluate(response string, messageCount int) Decision {
	var d Decision
	lower := strings.ToLower(response)

	switch {
	case p.EmailMarker != "" && strings.Contains(lower, p.EmailMarker):
		d.Qualified, d.Reason = true, ReasonEmail
	case messageCount > p.Threshold:
		d.Qualified, d.Reason = true, ReasonMessageCount
	}

	for _, m := range p.BlueprintMarkers {
		if strings.Contains(lower, m) {
			d.Blueprint = true
			break
		}
	}
	return d
}
