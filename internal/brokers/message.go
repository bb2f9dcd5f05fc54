package brokers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"melody-map/internal/common/errors"
)

const (
	HeaderMessageID = "message_id"
	HeaderChannel   = "channel"
	HeaderType      = "type"
)

// NewMessage encodes payload into an envelope. Strings and byte slices are
// sent as-is, anything else is JSON encoded.
func NewMessage(channel string, payload interface{}) (*Message, error) {
	var body []byte
	switch v := payload.(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, errors.InternalError("failed to encode event payload", err)
		}
		body = encoded
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Channel:   channel,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
	if typed, ok := payload.(Typed); ok {
		msg.Type = typed.EventType()
	}
	if keyed, ok := payload.(Keyed); ok {
		msg.Key = keyed.OrderingKey()
	}

	msg.Headers = map[string]string{
		HeaderMessageID: msg.ID,
		HeaderChannel:   channel,
	}
	if msg.Type != "" {
		msg.Headers[HeaderType] = msg.Type
	}
	return msg, nil
}
