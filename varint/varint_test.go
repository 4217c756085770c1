package varint

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, Max,
		37, 15293, 494878333, 151288809941952652,
	}
	for _, v := range values {
		enc := Encode(nil, v)
		got, n, ok := Decode(enc)
		if !ok {
			t.Fatalf("Decode(%x) not ok", enc)
		}
		if n != len(enc) {
			t.Fatalf("Decode(%x) consumed %d, want %d", enc, n, len(enc))
		}
		if got != v {
			t.Fatalf("Decode(Encode(%d)) = %d", v, got)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	full := Encode(nil, 1073741824) // 4-byte varint
	for i := 1; i < len(full); i++ {
		if _, _, ok := Decode(full[:i]); ok {
			t.Fatalf("Decode(%x) unexpectedly ok with only %d bytes", full, i)
		}
	}
	if _, _, ok := Decode(nil); ok {
		t.Fatalf("Decode(nil) unexpectedly ok")
	}
}

func TestPeekLenMatchesEncodedLength(t *testing.T) {
	values := []uint64{0, 63, 64, 16383, 16384, 1073741823, 1073741824, Max}
	for _, v := range values {
		enc := Encode(nil, v)
		if got := PeekLen(enc[0]); got != len(enc) {
			t.Fatalf("PeekLen(%#x) = %d, want %d", enc[0], got, len(enc))
		}
	}
}

func TestEncodePanicsOnOverflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("Encode(Max+1) did not panic")
		}
	}()
	Encode(nil, Max+1)
}
