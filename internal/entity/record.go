package entity

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/calderaware/refinery/internal/lifecycle"
)

// MaxPhotos caps the number of storage-backed photo references per record.
const MaxPhotos = 3

// MaxTagNumbers caps the number of physical tag identifiers per record.
const MaxTagNumbers = 10

// RestorationRecord tracks one cookware piece through the refinishing
// pipeline. The id is assigned by the upstream order event; status,
// damage reason, and stage timestamps are mutated only through the
// transition engine.
type RestorationRecord struct {
	bun.BaseModel `bun:"table:restoration_records"`

	ID           string                 `bun:"id,pk"`
	Status       lifecycle.Status       `bun:"status,notnull"`
	TagNumbers   []string               `bun:"tag_numbers,type:jsonb"`
	Photos       []string               `bun:"photos,type:jsonb"`
	Notes        string                 `bun:"notes"`
	DamageReason lifecycle.DamageReason `bun:"damage_reason,nullzero"`

	OrderCreatedAt         *time.Time `bun:"order_created_at"`
	DeliveredToWarehouseAt *time.Time `bun:"delivered_to_warehouse_at"`
	ReceivedAt             *time.Time `bun:"received_at"`
	SentToRestorationAt    *time.Time `bun:"sent_to_restoration_at"`
	BackFromRestorationAt  *time.Time `bun:"back_from_restoration_at"`
	ShippedAt              *time.Time `bun:"shipped_at"`
	ResolvedAt             *time.Time `bun:"resolved_at"`

	// IsPointOfSale switches the total-time basis from order creation to
	// warehouse delivery.
	IsPointOfSale bool `bun:"is_point_of_sale"`
	// LocalPickup is toggled freely and never participates in the state machine.
	LocalPickup bool `bun:"local_pickup"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}

// StageTimestamp returns a pointer to the field backing the named stage
// timestamp, so the engine can stamp and clear them generically.
func (r *RestorationRecord) StageTimestamp(ts lifecycle.StageTimestamp) **time.Time {
	switch ts {
	case lifecycle.TSOrderCreated:
		return &r.OrderCreatedAt
	case lifecycle.TSDeliveredToWarehouse:
		return &r.DeliveredToWarehouseAt
	case lifecycle.TSReceived:
		return &r.ReceivedAt
	case lifecycle.TSSentToRestoration:
		return &r.SentToRestorationAt
	case lifecycle.TSBackFromRestoration:
		return &r.BackFromRestorationAt
	case lifecycle.TSShipped:
		return &r.ShippedAt
	}
	return nil
}

// TotalTimeBasis returns the timestamp the "total time in pipeline"
// calculation starts from: order creation normally, warehouse delivery for
// point-of-sale items.
func (r *RestorationRecord) TotalTimeBasis() *time.Time {
	if r.IsPointOfSale {
		return r.DeliveredToWarehouseAt
	}
	return r.OrderCreatedAt
}
