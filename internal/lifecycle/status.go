package lifecycle

import "fmt"

// Status is one discrete position in the restoration pipeline.
type Status string

const (
	StatusPendingLabel       Status = "pending_label"
	StatusLabelSent          Status = "label_sent"
	StatusInTransitInbound   Status = "in_transit_inbound"
	StatusDeliveredWarehouse Status = "delivered_warehouse"
	// StatusReceived is a legacy check-in stage. New flows go straight from
	// delivered_warehouse to at_restoration; records already sitting in
	// received keep their path forward.
	StatusReceived      Status = "received"
	StatusAtRestoration Status = "at_restoration"
	StatusReadyToShip   Status = "ready_to_ship"
	StatusShipped       Status = "shipped"
	StatusDelivered     Status = "delivered"
	StatusCancelled     Status = "cancelled"
	StatusDamaged       Status = "damaged"
)

// DamageReason is the closed set of reasons an item can be written off as damaged.
type DamageReason string

const (
	DamageCracked       DamageReason = "cracked"
	DamageWarped        DamageReason = "warped"
	DamagePitted        DamageReason = "pitted"
	DamageLostInTransit DamageReason = "lost_in_transit"
	DamageOther         DamageReason = "other"
)

// pipelineOrder indexes the linear stages; side branches are absent.
var pipelineOrder = map[Status]int{
	StatusPendingLabel:       0,
	StatusLabelSent:          1,
	StatusInTransitInbound:   2,
	StatusDeliveredWarehouse: 3,
	StatusReceived:           4,
	StatusAtRestoration:      5,
	StatusReadyToShip:        6,
	StatusShipped:            7,
	StatusDelivered:          8,
}

// AllStatuses lists every member of the enumeration, pipeline stages first.
func AllStatuses() []Status {
	return []Status{
		StatusPendingLabel,
		StatusLabelSent,
		StatusInTransitInbound,
		StatusDeliveredWarehouse,
		StatusReceived,
		StatusAtRestoration,
		StatusReadyToShip,
		StatusShipped,
		StatusDelivered,
		StatusCancelled,
		StatusDamaged,
	}
}

// Valid reports whether s is a member of the status enumeration.
func (s Status) Valid() bool {
	if _, ok := pipelineOrder[s]; ok {
		return true
	}
	return s == StatusCancelled || s == StatusDamaged
}

// Terminal reports whether s has no outgoing pipeline transition.
// damaged still allows resolution, which does not change status.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusDamaged
}

// StageIndex returns the position of s in the linear pipeline, or -1 for
// the cancelled/damaged branches.
func (s Status) StageIndex() int {
	if idx, ok := pipelineOrder[s]; ok {
		return idx
	}
	return -1
}

// Valid reports whether r is a member of the damage reason enumeration.
func (r DamageReason) Valid() bool {
	switch r {
	case DamageCracked, DamageWarped, DamagePitted, DamageLostInTransit, DamageOther:
		return true
	}
	return false
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// ParseDamageReason converts a wire value into a DamageReason.
func ParseDamageReason(raw string) (DamageReason, error) {
	r := DamageReason(raw)
	if !r.Valid() {
		return "", fmt.Errorf("unknown damage reason %q", raw)
	}
	return r, nil
}
