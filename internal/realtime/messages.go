// Package realtime implements the ordered push channel between the server and
// a walker's client.
package realtime

import (
	"encoding/json"

	"github.com/ashureev/wayfinder/internal/domain"
)

// Outbound message types.
const (
	TypeNavStarted      = "NAV_STARTED"
	TypeNavInstruction  = "NAV_INSTRUCTION"
	TypeObstacleWarning = "OBSTACLE_WARNING"
	TypeHeartbeat       = "HEARTBEAT"
	TypePong            = "PONG"
)

// Inbound message types.
const (
	TypePing           = "PING"
	TypeLocationUpdate = "LOCATION_UPDATE"
)

// Envelope is the outbound wire format.
type Envelope struct {
	Type      string          `json:"type"`
	Seq       int64           `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NavStarted is the payload of NAV_STARTED.
type NavStarted struct {
	Message string `json:"message"`
}

// Instruction is the payload of NAV_INSTRUCTION.
type Instruction struct {
	Text              string  `json:"text"`
	AudioURL          *string `json:"audioUrl"`
	RemainingDistance int     `json:"remainingDistance"`
	RemainingTime     int     `json:"remainingTime"`
}

// ObstacleWarning is the payload of OBSTACLE_WARNING.
type ObstacleWarning struct {
	Text        string            `json:"text"`
	AudioURL    *string           `json:"audioUrl"`
	SafetyLevel int               `json:"safetyLevel"`
	Obstacles   []domain.Obstacle `json:"obstacles"`
}

// Empty is the payload of HEARTBEAT and PONG.
type Empty struct{}

// AudioRef converts an audio handle to its nullable wire form.
func AudioRef(url string) *string {
	if url == "" {
		return nil
	}
	return &url
}

// inboundMessage is a client → server message.
type inboundMessage struct {
	Type     string    `json:"type"`
	Location *location `json:"location,omitempty"`
}

type location struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (l *location) point() (domain.Point, bool) {
	if l == nil || l.Lat == nil || l.Lng == nil {
		return domain.Point{}, false
	}
	return domain.Point{Lat: *l.Lat, Lng: *l.Lng}, true
}
