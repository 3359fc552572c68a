package types

// Event types delivered to live viewers over the websocket stream.
const (
	EventTypeConnected string = "connected"
	EventTypePing      string = "ping"
	EventTypePong      string = "pong"
	EventTypeTelemetry string = "telemetry"
	EventTypeAlert     string = "alert"
)

// Event is the JSON envelope broadcast to viewer connections.
type Event struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
	Data     any    `json:"data,omitempty"`
	Message  string `json:"message,omitempty"`
}
