// Package protocol defines the JSON frames exchanged over an interview
// room WebSocket and their decode-time validation.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	// maxRoomNameLen bounds what the handshake accepts as a room name.
	maxRoomNameLen = 256
)

// Control actions.
const (
	ControlEndSession = "end_session"
)

// Status frame events.
const (
	StatusLinked           = "linked"
	StatusRecordingStarted = "recording_started"
	StatusRecordingFailed  = "recording_failed"
)

// DecodeError reports a frame the server refuses to process. Code is
// carried into the error frame sent back to the client.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientHello is the mandatory first frame of a session.
type ClientHello struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Room            string `json:"room"`
	ParticipantName string `json:"participant_name,omitempty"`
	Language        string `json:"language,omitempty"`
	Resume          bool   `json:"resume,omitempty"`
}

// ClientUtterance carries candidate speech. Only frames with Final set
// start a turn; partial frames are dropped by the session loop.
type ClientUtterance struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type ClientControl struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type ClientPing struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one inbound text frame into its typed form,
// validating required fields as it goes. Errors are always *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		msg.Room = strings.TrimSpace(msg.Room)
		return msg, nil
	case "utterance":
		var msg ClientUtterance
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid utterance frame", "")
		}
		if msg.Final && strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("utterance.text is required on final frames", "text")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control frame", "")
		}
		action := strings.TrimSpace(msg.Action)
		if action == "" {
			return nil, badRequest("control.action is required", "action")
		}
		if action != ControlEndSession {
			return nil, unsupported("unsupported control action", "action")
		}
		msg.Action = action
		return msg, nil
	case "ping":
		return ClientPing{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateHello checks the handshake frame before identity resolution.
// The room only has to be transportable here; whether it maps to an
// application is the resolver's concern.
func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	room := strings.TrimSpace(msg.Room)
	if room == "" {
		return badRequest("hello.room is required", "room")
	}
	if len(room) > maxRoomNameLen {
		return badRequest("hello.room is too long", "room")
	}
	if strings.ContainsAny(room, " \t\r\n") {
		return badRequest("hello.room must not contain whitespace", "room")
	}
	return nil
}

// ServerHelloAck acknowledges the handshake. For a resumed session
// RestoredMessages reports how much history the checkpoint held. The
// greeting, when one is generated, follows as the first assistant frame.
type ServerHelloAck struct {
	Type             string `json:"type"`
	ProtocolVersion  string `json:"protocol_version"`
	SessionID        string `json:"session_id"`
	ThreadID         string `json:"thread_id"`
	ApplicationID    string `json:"application_id,omitempty"`
	Resumed          bool   `json:"resumed"`
	RestoredMessages int    `json:"restored_messages"`
}

// ServerAssistant delivers one committed assistant turn.
type ServerAssistant struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Turn int    `json:"turn"`
}

// ServerStatus notifies the client about side-channel progress, such as
// recording linkage changing the thread id.
type ServerStatus struct {
	Type     string `json:"type"`
	Event    string `json:"event"`
	ThreadID string `json:"thread_id,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Scope   string `json:"scope,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

type ServerBye struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

type ServerPong struct {
	Type string `json:"type"`
}
