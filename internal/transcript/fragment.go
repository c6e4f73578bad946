package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"
)

type Fragment struct {
	CallID    string    `json:"call_id"`
	ItemID    string    `json:"item_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	AgentName string    `json:"agent_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (f Fragment) Label() string {
	if f.Speaker == SpeakerAgent {
		if f.AgentName != "" {
			return strings.ToUpper(f.AgentName)
		}
		return "AGENT"
	}
	return "CALLER"
}

func (f Fragment) FormatLine() string {
	return fmt.Sprintf("%s: %s", f.Label(), strings.TrimSpace(f.Text))
}

// Assemble renders one line per fragment ordered by timestamp, with item ID
// as tie-break so the same fragments always produce identical output.
func Assemble(fragments []Fragment) string {
	if len(fragments) == 0 {
		return ""
	}

	ordered := make([]Fragment, len(fragments))
	copy(ordered, fragments)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ItemID < ordered[j].ItemID
	})

	lines := make([]string, len(ordered))
	for i, f := range ordered {
		lines[i] = f.FormatLine()
	}
	return strings.Join(lines, "\n")
}
