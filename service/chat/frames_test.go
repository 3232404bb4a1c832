package chat

import (
	"encoding/json"
	"testing"

	"APChat/service/room"
	errors "APChat/tools/errs"
)

func TestParseFrameJSON(t *testing.T) {
	raw := []byte(`{"type":"enqueue","body":{"tags":["music","movies"]}}`)
	f, err := ParseFrameJSON(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if f.Type != FrameEnqueue {
		t.Fatalf("want enqueue, got %s", f.Type)
	}
	body, err := ExtractEnqueueBody(f)
	if err != nil {
		t.Fatalf("extract body failed: %v", err)
	}
	if len(body.Tags) != 2 || body.Tags[0] != "music" {
		t.Fatalf("tags wrong: %v", body.Tags)
	}
}

func TestParseFrameJSONRejectsGarbage(t *testing.T) {
	if _, err := ParseFrameJSON([]byte(`not json`)); err == nil {
		t.Fatalf("garbage must be rejected")
	}
	if _, err := ParseFrameJSON([]byte(`{"body":{}}`)); err == nil {
		t.Fatalf("missing type must be rejected")
	}
}

func TestEnqueueBodyOptional(t *testing.T) {
	f := &Frame{Type: FrameEnqueue}
	body, err := ExtractEnqueueBody(f)
	if err != nil || body == nil {
		t.Fatalf("empty body should default, got %v/%v", body, err)
	}
	if len(body.Tags) != 0 {
		t.Fatalf("default tags should be empty")
	}
}

func TestRelayKindMapping(t *testing.T) {
	cases := map[string]room.Kind{
		FrameReady:        room.KindReady,
		FrameOffer:        room.KindOffer,
		FrameAnswer:       room.KindAnswer,
		FrameICECandidate: room.KindICECandidate,
		FrameText:         room.KindText,
		FrameLeave:        room.KindLeave,
	}
	for ft, want := range cases {
		got, ok := RelayKind(ft)
		if !ok || got != want {
			t.Fatalf("RelayKind(%s) = %v/%v, want %v", ft, got, ok, want)
		}
	}
	if _, ok := RelayKind("enqueue"); ok {
		t.Fatalf("enqueue is not a relay kind")
	}
}

func TestBuildDeliverRoundTrip(t *testing.T) {
	env := room.Envelope{
		RoomID: "r1",
		Sender: "c1",
		Kind:   room.KindOffer,
		Body:   json.RawMessage(`{"sdp":"v=0"}`),
		TS:     12345,
	}
	f, err := ParseFrameJSON(BuildDeliver(env))
	if err != nil {
		t.Fatalf("deliver frame unparsable: %v", err)
	}
	if f.Type != FrameDeliver || f.RoomID != "r1" || f.From != "c1" || f.TS != 12345 {
		t.Fatalf("deliver header wrong: %+v", f)
	}
	var wrap struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(f.Body, &wrap); err != nil {
		t.Fatalf("deliver body unparsable: %v", err)
	}
	if wrap.Kind != FrameOffer || string(wrap.Data) != `{"sdp":"v=0"}` {
		t.Fatalf("deliver body wrong: %+v", wrap)
	}
}

func TestBuildErrorFromCodeError(t *testing.T) {
	src := errors.ErrRoomNotActive.WrapMsg("room=r1")
	f, err := ParseFrameJSON(BuildErrorFrom(src))
	if err != nil {
		t.Fatalf("error frame unparsable: %v", err)
	}
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(f.Body, &body); err != nil {
		t.Fatalf("error body unparsable: %v", err)
	}
	if body.Code != errors.RoomNotActiveError {
		t.Fatalf("want code %d, got %d", errors.RoomNotActiveError, body.Code)
	}
}

func TestBuildRoomEnded(t *testing.T) {
	f, err := ParseFrameJSON(BuildRoomEnded("r1", room.ReasonTimeout))
	if err != nil {
		t.Fatalf("room_ended frame unparsable: %v", err)
	}
	if f.Type != FrameRoomEnded || f.RoomID != "r1" {
		t.Fatalf("header wrong: %+v", f)
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(f.Body, &body)
	if body.Reason != "TIMEOUT" {
		t.Fatalf("want TIMEOUT, got %s", body.Reason)
	}
}
