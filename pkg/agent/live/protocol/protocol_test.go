package protocol

import (
	"strings"
	"testing"
)

func TestDecodeClientMessage_Hello(t *testing.T) {
	raw := []byte(`{
		"type":"hello",
		"protocol_version":"1",
		"room":"interview-11111111-2222-3333-4444-555555555555-7",
		"participant_name":"Layla Haddad",
		"language":"arabic",
		"resume":true
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	hello, ok := msg.(ClientHello)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientHello", msg)
	}
	if hello.ProtocolVersion != "1" {
		t.Fatalf("protocol_version=%q", hello.ProtocolVersion)
	}
	if hello.Room != "interview-11111111-2222-3333-4444-555555555555-7" {
		t.Fatalf("room=%q", hello.Room)
	}
	if hello.ParticipantName != "Layla Haddad" || hello.Language != "arabic" || !hello.Resume {
		t.Fatalf("hello=%+v", hello)
	}
}

func TestDecodeClientMessage_HelloTrimsRoom(t *testing.T) {
	raw := []byte(`{"type":"hello","protocol_version":"1","room":"  interview-x-1  "}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	if got := msg.(ClientHello).Room; got != "interview-x-1" {
		t.Fatalf("room=%q", got)
	}
}

func TestDecodeClientMessage_HelloMissingRoom(t *testing.T) {
	raw := []byte(`{"type":"hello","protocol_version":"1"}`)
	_, err := DecodeClientMessage(raw)
	if err == nil {
		t.Fatalf("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "bad_request" {
		t.Fatalf("code=%q", decErr.Code)
	}
	if decErr.Param != "room" {
		t.Fatalf("param=%q", decErr.Param)
	}
}

func TestValidateHello_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		hello ClientHello
		param string
	}{
		{"missing version", ClientHello{Room: "interview-x-1"}, "protocol_version"},
		{"whitespace room", ClientHello{ProtocolVersion: "1", Room: "interview x 1"}, "room"},
		{"oversized room", ClientHello{ProtocolVersion: "1", Room: "interview-" + strings.Repeat("a", 300)}, "room"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateHello(tc.hello)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := err.(*DecodeError).Param; got != tc.param {
				t.Fatalf("param=%q, want %q", got, tc.param)
			}
		})
	}
}

func TestDecodeClientMessage_Utterance(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"utterance","text":"I led the platform team.","final":true}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	utt := msg.(ClientUtterance)
	if !utt.Final || utt.Text != "I led the platform team." {
		t.Fatalf("utterance=%+v", utt)
	}
}

func TestDecodeClientMessage_FinalUtteranceNeedsText(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"utterance","text":"  ","final":true}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.(*DecodeError).Param; got != "text" {
		t.Fatalf("param=%q", got)
	}

	// Partial frames may be empty; the session loop drops them anyway.
	if _, err := DecodeClientMessage([]byte(`{"type":"utterance","text":"","final":false}`)); err != nil {
		t.Fatalf("partial utterance error = %v", err)
	}
}

func TestDecodeClientMessage_Control(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"control","action":" end_session "}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	if got := msg.(ClientControl).Action; got != ControlEndSession {
		t.Fatalf("action=%q", got)
	}
}

func TestDecodeClientMessage_UnsupportedControlAction(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"control","action":"reboot"}`))
	if err == nil {
		t.Fatalf("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "unsupported" {
		t.Fatalf("code=%q", decErr.Code)
	}
}

func TestDecodeClientMessage_Ping(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	if _, ok := msg.(ClientPing); !ok {
		t.Fatalf("decoded type = %T, want ClientPing", msg)
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"telemetry"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.(*DecodeError).Code; got != "bad_request" {
		t.Fatalf("code=%q", got)
	}
}

func TestDecodeClientMessage_InvalidJSON(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":`))
	if err == nil {
		t.Fatal("expected error")
	}
}
