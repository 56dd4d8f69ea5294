package deeplink

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	service "github.com/calderaware/refinery/internal/service/record"
)

// recordResolver adapts the record service onto the Resolver interface.
type recordResolver struct {
	svc *service.Service
}

func (r recordResolver) Exists(ctx context.Context, id string) (bool, error) {
	if _, err := r.svc.Get(ctx, id); err != nil {
		if errorIsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Module wires the deep-link synchronizer against the record service.
var Module = fx.Provide(func(svc *service.Service, logger *zap.Logger) *Synchronizer {
	return NewSynchronizer(recordResolver{svc: svc}, logger)
})
