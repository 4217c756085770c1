package webtransport

import (
	"log"

	"webtransport/carrier"
)

// logger is package-scoped and backed by the plain standard library
// logger rather than a structured logging dependency. Tests and
// embedders can redirect it with SetLogger.
var logger = log.Default()

// SetLogger redirects this package's diagnostics, e.g. to silence them in
// tests or to attach a prefix per connection.
func SetLogger(l *log.Logger) {
	if l != nil {
		logger = l
	}
}

func endpointTag(p carrier.Perspective) string {
	if p == carrier.PerspectiveServer {
		return "server: "
	}
	return "client: "
}
