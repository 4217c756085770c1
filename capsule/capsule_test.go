package capsule

import (
	"bytes"
	"testing"
)

func TestCloseWebTransportSessionRoundTrip(t *testing.T) {
	c := CloseWebTransportSession(17, "bye")
	encoded := c.Encode()

	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("Decode consumed %d, want %d", n, len(encoded))
	}

	code, msg, err := ParseCloseWebTransportSession(decoded)
	if err != nil {
		t.Fatalf("ParseCloseWebTransportSession: %v", err)
	}
	if code != 17 || msg != "bye" {
		t.Fatalf("got (%d, %q), want (17, \"bye\")", code, msg)
	}
}

func TestCloseWebTransportSessionEmptyMessage(t *testing.T) {
	c := CloseWebTransportSession(0, "")
	code, msg, err := ParseCloseWebTransportSession(c)
	if err != nil {
		t.Fatalf("ParseCloseWebTransportSession: %v", err)
	}
	if code != 0 || msg != "" {
		t.Fatalf("got (%d, %q), want (0, \"\")", code, msg)
	}
}

func TestReaderReadsSequentialCapsules(t *testing.T) {
	a := CloseWebTransportSession(1, "a")
	b := CloseWebTransportSession(2, "bb")
	var buf bytes.Buffer
	buf.Write(a.Encode())
	buf.Write(b.Encode())

	r := NewReader(&buf)
	got1, err := r.ReadCapsule()
	if err != nil {
		t.Fatalf("ReadCapsule 1: %v", err)
	}
	got2, err := r.ReadCapsule()
	if err != nil {
		t.Fatalf("ReadCapsule 2: %v", err)
	}

	code1, msg1, _ := ParseCloseWebTransportSession(got1)
	code2, msg2, _ := ParseCloseWebTransportSession(got2)
	if code1 != 1 || msg1 != "a" || code2 != 2 || msg2 != "bb" {
		t.Fatalf("unexpected decode: (%d,%q) (%d,%q)", code1, msg1, code2, msg2)
	}

	if _, err := r.ReadCapsule(); err == nil {
		t.Fatalf("expected EOF after two capsules")
	}
}

func TestParseCloseWebTransportSessionRejectsWrongType(t *testing.T) {
	if _, _, err := ParseCloseWebTransportSession(Capsule{Type: 0x1234, Data: []byte{0, 0, 0, 0}}); err == nil {
		t.Fatalf("expected error for wrong capsule type")
	}
}

func TestParseCloseWebTransportSessionRejectsShortPayload(t *testing.T) {
	if _, _, err := ParseCloseWebTransportSession(Capsule{Type: TypeCloseWebTransportSession, Data: []byte{1, 2}}); err == nil {
		t.Fatalf("expected error for short payload")
	}
}
