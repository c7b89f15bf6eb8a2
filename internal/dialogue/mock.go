package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/wayfinder/internal/domain"
)

// Mock answers with keyword rules. It is used in mock mode and when the
// model is unavailable.
type Mock struct{}

type rule struct {
	keywords []string
	reply    Reply
}

var rules = []rule{
	{
		keywords: []string{"supermarket", "grocery", "store", "shop"},
		reply: Reply{
			Text:     "Sure, I will look for a supermarket nearby. Where are you right now?",
			NavState: domain.NavStateAsking,
			Data:     map[string]any{"destination_type": "supermarket"},
		},
	},
	{
		keywords: []string{"hospital", "doctor", "clinic"},
		reply: Reply{
			Text:     "Understood, I will find the nearest hospital. Please tell me where you are.",
			NavState: domain.NavStateAsking,
			Data:     map[string]any{"destination_type": "hospital"},
		},
	},
	{
		keywords: []string{"confirm", "start", "let's go"},
		reply: Reply{
			Text:     "All right, starting navigation for you.",
			NavState: domain.NavStateNavigating,
			Data:     map[string]any{"confirmed": true},
		},
	},
}

// Converse implements Converser.
func (Mock) Converse(_ context.Context, text string, _ []domain.Turn, _ map[string]any) (Reply, error) {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, k := range r.keywords {
			if strings.Contains(lower, k) {
				return cloneReply(r.reply), nil
			}
		}
	}
	return Reply{
		Text:     "I am your navigation assistant and can plan a walking route for you. Where would you like to go?",
		NavState: domain.NavStateAsking,
		Data:     map[string]any{},
	}, nil
}

// Advise returns deterministic walking advice for the nearest obstacle.
func (Mock) Advise(_ context.Context, obstacles []domain.Obstacle, _ *domain.Point) (string, error) {
	if len(obstacles) == 0 {
		return "The road ahead is clear, please continue straight.", nil
	}
	return fmt.Sprintf("There is a %s %.1f meters ahead, please slow down.", obstacles[0].Type, obstacles[0].Distance), nil
}

func cloneReply(r Reply) Reply {
	data := make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}
	r.Data = data
	return r
}
