package http

import (
	"go.uber.org/fx"

	recordtransport "github.com/calderaware/refinery/internal/transport/http/record"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	recordtransport.Module,
)
