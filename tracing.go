package identity

import (
	"go.opentelemetry.io/otel"
)

const instrumentationName = "github.com/goliatone/go-identity"

var tracer = otel.Tracer(instrumentationName)
