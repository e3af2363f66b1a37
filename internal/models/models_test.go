package models

import (
	"encoding/json"
	"testing"
)

func TestMarshalUnmarshalSendPayload(t *testing.T) {
	p := SendPayload{LeadID: "lead_1", To: "+15555550123", From: "+15555550100", Body: "hi", Reason: "consent:stop"}
	s, err := MarshalPayload(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got SendPayload
	if err := UnmarshalPayload(s, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != p {
		t.Errorf("payload round trip mismatch: got %+v want %+v", got, p)
	}
}

func TestUnmarshalPayloadEmpty(t *testing.T) {
	var got SendPayload
	if err := UnmarshalPayload("", &got); err != nil {
		t.Fatalf("empty payload should be a no-op, got error: %v", err)
	}
	if got.To != "" {
		t.Errorf("expected zero value, got %+v", got)
	}
}

func TestAPIResponseEnvelope(t *testing.T) {
	resp := Error("bad signature")
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded["status"] != "error" || decoded["message"] != "bad signature" {
		t.Errorf("unexpected envelope: %v", decoded)
	}
	if _, ok := decoded["result"]; ok {
		t.Error("empty result should be omitted")
	}
}
