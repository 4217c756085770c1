package webtransport

// This file implements the bijective mapping between the HTTP/3
// application error code space and the 8-bit WebTransport stream error
// space, as specified in the WebTransport-over-HTTP/3 mapping. A narrow
// contiguous range of HTTP/3 codes is reserved for WebTransport stream
// errors; every 31st (0x1f) codepoint in that range is GREASE (reserved to
// exercise peer tolerance of unrecognized values) and must not decode.

const (
	errorCodeFirst = 0x52e4a40fa8db
	errorCodeLast  = 0x52e4a40fa9e2

	// defaultWebTransportError is substituted whenever a mapped code is
	// needed but decoding the peer-supplied HTTP/3 code failed.
	defaultWebTransportError uint8 = 0
)

// isGREASECode reports whether code falls on a GREASE codepoint. GREASE
// codepoints are a lattice over the entire HTTP/3 application error code
// space (spaced every 0x1f values, offset by 0x21), not something
// specific to the WebTransport sub-range; where the lattice happens to
// cross [errorCodeFirst, errorCodeLast] is incidental.
func isGREASECode(code uint64) bool {
	return (code-0x21)%0x1f == 0
}

// DecodeHTTP3Error maps an HTTP/3 application error code into the
// WebTransport stream error space. It returns ok=false if code is out of
// the mapped range or lands on a GREASE codepoint.
func DecodeHTTP3Error(code uint64) (result uint8, ok bool) {
	if code < errorCodeFirst || code > errorCodeLast {
		return 0, false
	}
	if isGREASECode(code) {
		return 0, false
	}

	shifted := code - errorCodeFirst
	value := shifted - shifted/0x1f
	return uint8(value), true
}

// DecodeHTTP3ErrorOrDefault is DecodeHTTP3Error, substituting
// defaultWebTransportError (0) when decoding fails.
func DecodeHTTP3ErrorOrDefault(code uint64) uint8 {
	if v, ok := DecodeHTTP3Error(code); ok {
		return v
	}
	return defaultWebTransportError
}

// EncodeHTTP3Error maps a WebTransport stream error code into the HTTP/3
// application error code space, skipping over the GREASE codepoints that
// DecodeHTTP3Error excludes. EncodeHTTP3Error and DecodeHTTP3Error are
// inverses on the non-GREASE subset of [errorCodeFirst, errorCodeLast].
func EncodeHTTP3Error(webtransportError uint8) uint64 {
	e := uint64(webtransportError)
	return errorCodeFirst + e + e/0x1e
}
