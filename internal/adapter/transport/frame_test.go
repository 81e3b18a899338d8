package transport

import (
	"encoding/json"
	"testing"

	"hostbridge/internal/adapter/transport/proto"
	"hostbridge/internal/domain"
)

func TestInboundFromFrame(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name      string
		frame     proto.Frame
		wantEvent bool
		wantErr   bool
	}{
		{"success response", proto.Frame{ID: 3, Success: &yes, Result: json.RawMessage(`1`)}, false, false},
		{"failure response", proto.Frame{ID: 4, Success: &no, Error: &proto.ErrorDetail{Message: "boom"}}, false, false},
		{"host event", proto.Frame{Func: "themeChange", Args: []json.RawMessage{json.RawMessage(`"dark"`)}}, true, false},
		{"response without id", proto.Frame{Success: &yes}, false, true},
		{"empty frame", proto.Frame{}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := InboundFromFrame(&tt.frame)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InboundFromFrame: %v", err)
			}
			if tt.wantEvent && msg.Event == nil {
				t.Fatal("expected event")
			}
			if !tt.wantEvent && msg.Response == nil {
				t.Fatal("expected response")
			}
		})
	}
}

func TestResponseFrameKeepsFailure(t *testing.T) {
	f := FrameFromResponse(domain.ResponseEnvelope{ID: 9, Error: &domain.ErrorDetail{Message: "denied"}})
	if f.Success == nil || *f.Success {
		t.Fatal("success flag must be present and false")
	}

	msg, err := InboundFromFrame(f)
	if err != nil {
		t.Fatalf("InboundFromFrame: %v", err)
	}
	if msg.Response.Success || msg.Response.Error.Message != "denied" {
		t.Errorf("response = %+v", msg.Response)
	}
}

func TestRequestFrameShape(t *testing.T) {
	req, err := domain.NewRequestEnvelope(7, "chat.openChat")
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(FrameFromRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"id":7,"func":"chat.openChat"}` {
		t.Errorf("frame = %s", data)
	}

	back, err := RequestFromFrame(FrameFromRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	if back.ID != 7 || back.Func != "chat.openChat" {
		t.Errorf("request = %+v", back)
	}

	if _, err := RequestFromFrame(&proto.Frame{Func: "x"}); err == nil {
		t.Error("expected error for missing id")
	}
}
