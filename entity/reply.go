package entity

import (
	"encoding/json"
	"strings"
)

// AiReply is the structured response the language model must produce.
//
// A non-empty Report means the customer confirmed an order: the dispatcher
// forwards the report to the bot's notify address and freezes the
// conversation.
type AiReply struct {
	Message1 string   `json:"message1"`
	Message2 string   `json:"message2,omitempty"`
	Message3 string   `json:"message3,omitempty"`
	Photos   []string `json:"photos,omitempty"`
	Report   string   `json:"report,omitempty"`
	Intent   string   `json:"intent,omitempty"`
}

func (r *AiReply) Closed() bool {
	return strings.TrimSpace(r.Report) != ""
}

// Segments returns the non-empty messages in send order.
func (r *AiReply) Segments() []string {
	out := make([]string, 0, 3)
	for _, s := range []string{r.Message1, r.Message2, r.Message3} {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// RenderForHistory flattens the structured reply back to the plain text the
// customer actually read. Both the live prompt assembler and the follow-up
// worker replay assistant turns through this one function so the model never
// sees raw JSON in its own history.
func (r *AiReply) RenderForHistory() string {
	return strings.Join(r.Segments(), "\n")
}

// ParseReply decodes a stored assistant row. Follow-up nudges are stored as
// plain text, so a non-JSON payload is returned as-is.
func ParseReply(stored string) (AiReply, bool) {
	var reply AiReply
	if err := json.Unmarshal([]byte(stored), &reply); err != nil {
		return AiReply{}, false
	}
	return reply, true
}

// HistoryText renders any assistant row for prompting.
func HistoryText(stored string) string {
	if reply, ok := ParseReply(stored); ok {
		return reply.RenderForHistory()
	}
	return stored
}
