package peer

import "github.com/vmihailenco/msgpack/v5"

// controlLabel names the data channel carrying call control messages.
const controlLabel = "control"

// Control message types.
const (
	controlMediaState = "media_state"
)

// controlMessage represents all control data channel messages.
type controlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// mediaStatePayload announces the sender's mic and camera state.
type mediaStatePayload struct {
	Mic   bool `msgpack:"mic"`
	Video bool `msgpack:"video"`
}

func encodeControl(t string, payload any) ([]byte, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(controlMessage{Type: t, Payload: b})
}

func decodeControl(data []byte) (controlMessage, error) {
	var m controlMessage
	err := msgpack.Unmarshal(data, &m)
	return m, err
}

// decodePayload decodes the message payload into v.
func (m controlMessage) decodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}
