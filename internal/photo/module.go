package photo

import "go.uber.org/fx"

// Module provides the object store and ingest pipeline to Fx.
var Module = fx.Options(
	fx.Provide(NewStore),
	fx.Provide(NewPipeline),
)
