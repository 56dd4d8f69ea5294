package record

import "go.uber.org/fx"

// Module provides the record repository to Fx.
var Module = fx.Provide(NewRepository)
