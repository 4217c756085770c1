package webtransport

import "testing"

// P3: decode(encode(e)) == Some(e) for every e in [0, 255].
func TestErrorCodeEncodeDecodeRoundTrip(t *testing.T) {
	for e := 0; e <= 255; e++ {
		code := EncodeHTTP3Error(uint8(e))
		got, ok := DecodeHTTP3Error(code)
		if !ok {
			t.Fatalf("EncodeHTTP3Error(%d) = %#x did not decode", e, code)
		}
		if got != uint8(e) {
			t.Fatalf("round trip for %d produced %#x -> %d", e, code, got)
		}
	}
}

// P4: encode(decode(c)) == c for every non-GREASE c in
// [errorCodeFirst, errorCodeLast].
func TestErrorCodeDecodeEncodeRoundTrip(t *testing.T) {
	for code := uint64(errorCodeFirst); code <= errorCodeLast; code++ {
		if isGREASECode(code) {
			continue
		}
		v, ok := DecodeHTTP3Error(code)
		if !ok {
			t.Fatalf("code %#x in range unexpectedly failed to decode", code)
		}
		if got := EncodeHTTP3Error(v); got != code {
			t.Fatalf("decode(%#x) = %d, encode(%d) = %#x, want %#x", code, v, v, got, code)
		}
	}
}

// P5: every GREASE code in [errorCodeFirst, errorCodeLast] decodes to none.
func TestErrorCodeGREASENeverDecodes(t *testing.T) {
	found := 0
	for code := uint64(errorCodeFirst); code <= errorCodeLast; code++ {
		if !isGREASECode(code) {
			continue
		}
		found++
		if _, ok := DecodeHTTP3Error(code); ok {
			t.Fatalf("GREASE code %#x decoded successfully, want failure", code)
		}
	}
	if found == 0 {
		t.Fatal("expected at least one GREASE codepoint in range")
	}
}

func TestDecodeHTTP3ErrorOrDefaultFallsBackOnFailure(t *testing.T) {
	if got := DecodeHTTP3ErrorOrDefault(errorCodeFirst - 1); got != defaultWebTransportError {
		t.Fatalf("out-of-range code: got %d, want default %d", got, defaultWebTransportError)
	}
}
