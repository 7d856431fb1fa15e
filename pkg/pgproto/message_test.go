package pgproto

import (
	"bufio"
	"bytes"
	"testing"
)

func TestWriteReadMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Message{Type: TypeQuery, Body: append([]byte("select 1"), 0)}

	if err := WriteMessage(&buf, want); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, err := ReadMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Type != want.Type || !bytes.Equal(got.Body, want.Body) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestReadStartupMessage_SSLRequest(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSSLRequest(&buf); err != nil {
		t.Fatalf("WriteSSLRequest: %v", err)
	}

	msg, err := ReadStartupMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadStartupMessage: %v", err)
	}
	if msg.ProtocolVersion != SSLRequestCode {
		t.Errorf("expected SSLRequestCode, got %#x", msg.ProtocolVersion)
	}
}

func TestWriteReadStartupMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	params := map[string]string{"user": "app", "database": "appdb"}
	if err := WriteStartupMessage(&buf, params); err != nil {
		t.Fatalf("WriteStartupMessage: %v", err)
	}

	msg, err := ReadStartupMessage(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadStartupMessage: %v", err)
	}
	if msg.ProtocolVersion != ProtocolVersion3 {
		t.Errorf("expected ProtocolVersion3, got %#x", msg.ProtocolVersion)
	}
	if msg.Parameters["user"] != "app" || msg.Parameters["database"] != "appdb" {
		t.Errorf("unexpected parameters: %+v", msg.Parameters)
	}
}

func TestReadMessage_RejectsShortLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(TypeQuery)
	buf.Write([]byte{0, 0, 0, 2}) // length < 4 is invalid

	_, err := ReadMessage(bufio.NewReader(&buf))
	if err == nil {
		t.Fatal("expected error for invalid length")
	}
}

func TestParseErrorResponse(t *testing.T) {
	body := []byte{}
	body = append(body, 'S')
	body = append(body, "FATAL\x00"...)
	body = append(body, 'C')
	body = append(body, "28000\x00"...)
	body = append(body, 'M')
	body = append(body, "password authentication failed\x00"...)
	body = append(body, 0)

	resp := ParseErrorResponse(body)
	if resp.Severity != "FATAL" || resp.Code != "28000" {
		t.Errorf("unexpected parse: %+v", resp)
	}
}
