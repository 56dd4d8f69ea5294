package record

import (
	"go.uber.org/fx"

	"github.com/calderaware/refinery/internal/photo"
	repo "github.com/calderaware/refinery/internal/repository/record"
)

// Module provides the record service to Fx.
var Module = fx.Options(
	fx.Provide(func(r *repo.Repository) Repository { return r }),
	fx.Provide(func(p *photo.Pipeline) PhotoIngester { return p }),
	fx.Provide(NewService),
)
