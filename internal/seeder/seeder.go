package seeder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/calderaware/refinery/internal/database"
	"github.com/calderaware/refinery/internal/entity"
	"github.com/calderaware/refinery/internal/lifecycle"
)

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// Records seeds example restoration records if they are missing.
func (s *Seeder) Records(ctx context.Context) error {
	now := time.Now().UTC()
	delivered := now.Add(-48 * time.Hour)

	samples := []entity.RestorationRecord{
		{
			ID:             uuid.NewString(),
			Status:         lifecycle.StatusPendingLabel,
			OrderCreatedAt: &now,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		{
			ID:                     uuid.NewString(),
			Status:                 lifecycle.StatusDeliveredWarehouse,
			TagNumbers:             []string{"M-101"},
			OrderCreatedAt:         &delivered,
			DeliveredToWarehouseAt: &now,
			CreatedAt:              delivered,
			UpdatedAt:              now,
		},
		{
			ID:             uuid.NewString(),
			Status:         lifecycle.StatusAtRestoration,
			TagNumbers:     []string{"M-102", "M-103"},
			Notes:          "deep pitting on cooking surface",
			IsPointOfSale:  true,
			OrderCreatedAt: &delivered,
			CreatedAt:      delivered,
			UpdatedAt:      now,
		},
	}

	for _, sample := range samples {
		rec := sample
		_, err := s.db.NewInsert().Model(&rec).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded restoration records", zap.Int("count", len(samples)))
	}
	return nil
}
