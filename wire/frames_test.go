package wire

import (
	"bytes"
	"testing"
)

func TestPublishRoundTrip(t *testing.T) {
	f := PublishFrames{
		Topic:      "test0@/chatter",
		SenderAddr: "tcp://127.0.0.1:5555",
		Payload:    []byte{1, 2, 3},
		TypeName:   "I32",
	}
	frames := f.Encode()
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	got, ok := DecodePublish(frames)
	if !ok {
		t.Fatalf("decode failed")
	}
	if got.Topic != f.Topic || got.SenderAddr != f.SenderAddr || !bytes.Equal(got.Payload, f.Payload) || got.TypeName != f.TypeName {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDecodePublishBadFrameCount(t *testing.T) {
	if _, ok := DecodePublish([][]byte{[]byte("only one")}); ok {
		t.Fatalf("expected rejection")
	}
}

func TestControlRoundTrip(t *testing.T) {
	f := ControlFrames{
		Topic:     "test0@/chatter",
		ProcessID: "p1",
		NodeID:    "n1",
		TypeName:  "I32",
		Event:     NewConnection,
	}
	got, ok := DecodeControl(f.Encode())
	if !ok || got != f {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	f.Event = EndConnection
	got, ok = DecodeControl(f.Encode())
	if !ok || got.Event != EndConnection {
		t.Fatalf("expected EndConnection, got %+v", got)
	}
}

func TestDecodeControlMalformedEvent(t *testing.T) {
	frames := [][]byte{[]byte("t"), []byte("p"), []byte("n"), []byte("T"), []byte("7")}
	if _, ok := DecodeControl(frames); ok {
		t.Fatalf("expected rejection of malformed event byte")
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	req := RequestFrames{
		ResponderSocketID:        "sock1",
		Topic:                    "test0@/add",
		SenderAddr:               "tcp://127.0.0.1:6000",
		ResponseReceiverSocketID: "sock2",
		NodeID:                   "n1",
		RequestHandlerID:         "h1",
		ReqBytes:                 []byte{9, 9},
		ReqTypeName:              "I32",
		RepTypeName:              "I32",
	}
	got, ok := DecodeRequest(req.Encode())
	if !ok {
		t.Fatalf("decode failed")
	}
	if got.Topic != req.Topic || !bytes.Equal(got.ReqBytes, req.ReqBytes) {
		t.Fatalf("mismatch: %+v", got)
	}

	resp := ResponseFrames{
		DestinationSocketID: "sock2",
		Topic:               "test0@/add",
		NodeID:               "n1",
		RequestHandlerID:     "h1",
		RepBytes:             []byte{1},
		Result:               true,
	}
	gotResp, ok := DecodeResponse(resp.Encode())
	if !ok || !gotResp.Result || !bytes.Equal(gotResp.RepBytes, resp.RepBytes) {
		t.Fatalf("mismatch: %+v", gotResp)
	}

	resp.Result = false
	gotResp, ok = DecodeResponse(resp.Encode())
	if !ok || gotResp.Result {
		t.Fatalf("expected Result=false, got %+v", gotResp)
	}
}
