package websocket

import (
	"fmt"

	"github.com/google/uuid"
)

type socketMessageType int

const (
	Update socketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

func (t socketMessageType) String() string {
	switch t {
	case Update:
		return fmt.Sprintf("UPDATE[%d]", t)
	case Command:
		return fmt.Sprintf("COMMAND[%d]", t)
	case Response:
		return fmt.Sprintf("RESPONSE[%d]", t)
	case ErrorResponse:
		return fmt.Sprintf("ERROR_RESPONSE[%d]", t)
	case Welcome:
		return fmt.Sprintf("WELCOME[%d]", t)
	}

	return fmt.Sprintf("UNKNOWN[%d]", t)
}

// SocketMessage is a single frame sent over the activity socket. Clients
// receive job and ingest activity as Updates, and may send Commands. The
// Id of a Command is copied to its reply, and Origin is the client the
// Command arrived from. A message with a Target is delivered only to the
// client with that ID.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   socketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// ValidateArguments checks that each key named in required is present in
// the message body with the type given ("string", or "number"/"int").
func (message *SocketMessage) ValidateArguments(required map[string]string) error {
	const ERR_FMT = "failed to validate key '%v' with type '%v' - %#v"

	for key, kind := range required {
		v, ok := message.Body[key]
		if !ok {
			return fmt.Errorf("failed to validate key '%v' - key is missing", key)
		}

		switch kind {
		case "number", "int":
			// JSON numbers are always decoded as float64
			if _, ok := v.(float64); !ok {
				return fmt.Errorf(ERR_FMT, key, kind, v)
			}
		case "string":
			if s, ok := v.(string); !ok || s == "" {
				return fmt.Errorf(ERR_FMT, key, kind, v)
			}
		default:
			return fmt.Errorf(ERR_FMT, key, kind, "unknown type")
		}
	}

	return nil
}

// FormReply returns a new message addressed to the origin of this one,
// carrying the same Id. The original body is included under 'command'.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType socketMessageType) *SocketMessage {
	if replyBody == nil {
		replyBody = make(map[string]interface{})
	}
	replyBody["command"] = message.Body

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
