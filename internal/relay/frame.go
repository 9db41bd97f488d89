// internal/relay/frame.go
package relay

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// Channel names the endpoint a frame came from or goes to.
type Channel int

const (
	ChannelSocket Channel = iota
	ChannelSurface
)

func (c Channel) String() string {
	if c == ChannelSurface {
		return "surface"
	}
	return "socket"
}

// Frame is one tagged envelope moving through the relay. Payload is never
// interpreted by the relay itself.
type Frame struct {
	Channel   Channel
	EventType string
	Payload   string
}

// EncodeFrame renders "<eventType>:<json payload>".
func EncodeFrame(eventType string, payload interface{}) (string, error) {
	if eventType == "" || strings.Contains(eventType, ":") {
		return "", fmt.Errorf("invalid event type %q", eventType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return eventType + ":" + string(data), nil
}

// SplitFrame splits msg on its first ':'. A message without a separator is
// treated as a bare event type with no payload and ok reports false.
func SplitFrame(msg string) (eventType, payload string, ok bool) {
	i := strings.IndexByte(msg, ':')
	switch {
	case i < 0:
		return msg, "", false
	case i == 0:
		return "", msg[1:], false
	}
	return msg[:i], msg[i+1:], true
}

// socketMessage mirrors a raw socket message to the surface.
type socketMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type errorPayload struct {
	Message string `json:"message"`
	Trigger string `json:"trigger"`
}
