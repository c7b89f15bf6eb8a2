// Package dialogue runs the conversational front end: understanding where the
// walker wants to go and answering in short spoken replies.
package dialogue

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ashureev/wayfinder/internal/domain"
)

// HistoryWindow is the number of most recent turns sent with each request.
const HistoryWindow = 10

// ContextLastLocation is the conversation context key holding the walker's
// last reported domain.Point.
const ContextLastLocation = "last_location"

// Reply is the outcome of one conversational turn.
type Reply struct {
	Text     string          `json:"reply"`
	NavState domain.NavState `json:"navState,omitempty"`
	Data     map[string]any  `json:"data"`
}

// Converser answers a user message given recent history and free-form context.
type Converser interface {
	Converse(ctx context.Context, text string, history []domain.Turn, convCtx map[string]any) (Reply, error)
}

const jsonFence = "```json"

// ParseReply splits model output into spoken text and an optional fenced
// JSON block. A block with "confirmed": true means navigation may start.
func ParseReply(content string) Reply {
	r := Reply{Text: strings.TrimSpace(content), NavState: domain.NavStateAsking, Data: map[string]any{}}

	head, rest, ok := strings.Cut(content, jsonFence)
	if !ok {
		return r
	}
	body, _, _ := strings.Cut(rest, "```")

	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &data); err != nil {
		return r
	}
	r.Text = strings.TrimSpace(head)
	r.Data = data
	if confirmed, _ := data["confirmed"].(bool); confirmed {
		r.NavState = domain.NavStateNavigating
	}
	return r
}

func lastLocation(convCtx map[string]any) (domain.Point, bool) {
	p, ok := convCtx[ContextLastLocation].(domain.Point)
	return p, ok
}
