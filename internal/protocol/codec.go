package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidJSON reports a frame that was not a valid JSON object.
var ErrInvalidJSON = errors.New("invalid JSON")

// UnknownTypeError reports a frame whose type discriminator is not in the
// accepted client set.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Type)
}

// PayloadError reports a frame whose envelope was valid JSON with a known
// type but whose payload fields did not decode. The connection layer
// decides per type whether this is reported or silently dropped.
type PayloadError struct {
	Type string
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Type, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Decode parses one client → server frame. The envelope is decoded first
// to read the type discriminator, then the payload is decoded strictly
// into the matching message struct.
func Decode(data []byte) (ClientMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrInvalidJSON
	}

	msg := newClientMessage(env.Type)
	if msg == nil {
		return nil, &UnknownTypeError{Type: env.Type}
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &PayloadError{Type: env.Type, Err: err}
	}
	return msg, nil
}

func newClientMessage(msgType string) ClientMessage {
	switch msgType {
	case TypeAuth:
		return &Auth{}
	case TypeList:
		return &List{}
	case TypeCreate:
		return &Create{}
	case TypeAttach:
		return &Attach{}
	case TypeDetach:
		return &Detach{}
	case TypeInput:
		return &Input{}
	case TypeResize:
		return &Resize{}
	case TypeKill:
		return &Kill{}
	case TypeRename:
		return &Rename{}
	case TypeClipboardSet:
		return &ClipboardSet{}
	case TypeClipboardGet:
		return &ClipboardGet{}
	case TypeListClients:
		return &ListClients{}
	case TypeKickClient:
		return &KickClient{}
	}
	return nil
}

// Encode serializes one server → client frame.
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
