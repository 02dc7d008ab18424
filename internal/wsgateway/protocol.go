package wsgateway

import (
	"fmt"

	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// MessageType represents the type of a client message
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSnapshot    MessageType = "snapshot"
	MessageTypePing        MessageType = "ping"
)

// Error codes sent in error envelopes
const (
	CodeInvalidMessage   = "invalid_message"
	CodeInvalidRequest   = "invalid_request"
	CodeUnknownType      = "unknown_message_type"
	CodeUnknownIndicator = "unknown_indicator"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type         string   `json:"type"`
	IndicatorID  string   `json:"indicatorId,omitempty"`
	IndicatorIDs []string `json:"indicatorIds,omitempty"`
}

func (m *ClientMessage) ids() []string {
	if m.IndicatorID != "" {
		return append([]string{m.IndicatorID}, m.IndicatorIDs...)
	}
	return m.IndicatorIDs
}

// ServerMessage acknowledges a client request
type ServerMessage struct {
	Type   string      `json:"type"`
	Action string      `json:"action,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// HandleClientMessage handles a message from the client. known reports
// whether an indicator ID is currently registered; snapshot queues a fresh
// snapshot for the connection.
func (c *Connection) HandleClientMessage(msg *ClientMessage, known func(string) bool, snapshot func(*Connection) error) error {
	switch MessageType(msg.Type) {
	case MessageTypeSubscribe:
		ids := msg.ids()
		if len(ids) == 0 {
			return c.SendError(CodeInvalidRequest, "indicatorId or indicatorIds field required")
		}
		for _, id := range ids {
			if known != nil && !known(id) {
				return c.SendError(CodeUnknownIndicator, fmt.Sprintf("unknown indicator: %s", id))
			}
		}
		c.Subscribe(ids...)
		logger.Debug("Client subscribed to indicators",
			logger.String("connection_id", c.ID),
			logger.Int("count", len(ids)),
		)
		return c.SendSuccess("subscribed", map[string]interface{}{"indicatorIds": ids})

	case MessageTypeUnsubscribe:
		ids := msg.ids()
		if len(ids) == 0 {
			return c.SendError(CodeInvalidRequest, "indicatorId or indicatorIds field required")
		}
		c.Unsubscribe(ids...)
		logger.Debug("Client unsubscribed from indicators",
			logger.String("connection_id", c.ID),
			logger.Int("count", len(ids)),
		)
		return c.SendSuccess("unsubscribed", map[string]interface{}{"indicatorIds": ids})

	case MessageTypeSnapshot:
		if snapshot == nil {
			return c.SendError(CodeInvalidRequest, "snapshots are not available")
		}
		return snapshot(c)

	case MessageTypePing:
		return c.SendJSON(ServerMessage{Type: "pong"})

	default:
		return c.SendError(CodeUnknownType, fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

// SendSuccess sends a success message to the client
func (c *Connection) SendSuccess(action string, data interface{}) error {
	return c.SendJSON(ServerMessage{
		Type:   "success",
		Action: action,
		Data:   data,
	})
}
