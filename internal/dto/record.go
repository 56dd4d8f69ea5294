package dto

import (
	"time"

	"github.com/calderaware/refinery/internal/entity"
	"github.com/calderaware/refinery/internal/lifecycle"
)

// RecordResponse represents a restoration record as exposed via transport layers.
type RecordResponse struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	TagNumbers   []string `json:"tag_numbers"`
	Photos       []string `json:"photos"`
	Notes        string   `json:"notes,omitempty"`
	DamageReason string   `json:"damage_reason,omitempty"`

	OrderCreatedAt         *time.Time `json:"order_created_at,omitempty"`
	DeliveredToWarehouseAt *time.Time `json:"delivered_to_warehouse_at,omitempty"`
	ReceivedAt             *time.Time `json:"received_at,omitempty"`
	SentToRestorationAt    *time.Time `json:"sent_to_restoration_at,omitempty"`
	BackFromRestorationAt  *time.Time `json:"back_from_restoration_at,omitempty"`
	ShippedAt              *time.Time `json:"shipped_at,omitempty"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`

	IsPointOfSale bool `json:"is_point_of_sale"`
	LocalPickup   bool `json:"local_pickup"`

	// NextStatuses lists the user-triggered forward options from the
	// current stage, so clients never have to duplicate the edge table.
	NextStatuses []string `json:"next_statuses"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecordResponse maps a record entity onto its transport shape.
func NewRecordResponse(rec *entity.RestorationRecord) RecordResponse {
	resp := RecordResponse{
		ID:            rec.ID,
		Status:        string(rec.Status),
		TagNumbers:    rec.TagNumbers,
		Photos:        rec.Photos,
		Notes:         rec.Notes,
		DamageReason:  string(rec.DamageReason),
		IsPointOfSale: rec.IsPointOfSale,
		LocalPickup:   rec.LocalPickup,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,

		OrderCreatedAt:         rec.OrderCreatedAt,
		DeliveredToWarehouseAt: rec.DeliveredToWarehouseAt,
		ReceivedAt:             rec.ReceivedAt,
		SentToRestorationAt:    rec.SentToRestorationAt,
		BackFromRestorationAt:  rec.BackFromRestorationAt,
		ShippedAt:              rec.ShippedAt,
		ResolvedAt:             rec.ResolvedAt,
	}
	if resp.TagNumbers == nil {
		resp.TagNumbers = []string{}
	}
	if resp.Photos == nil {
		resp.Photos = []string{}
	}
	resp.NextStatuses = []string{}
	for _, next := range lifecycle.ForwardTransitions(rec.Status) {
		resp.NextStatuses = append(resp.NextStatuses, string(next))
	}
	return resp
}
