package lifecycle

import "errors"

// Sentinel errors produced by the legality checks. The service layer maps
// these onto transport-facing error kinds.
var (
	ErrInvalidTransition    = errors.New("transition not legal from current status")
	ErrCheckInGate          = errors.New("at least one tag number is required before refinishing")
	ErrDamageReasonRequired = errors.New("damage reason is required")
	ErrAlreadyResolved      = errors.New("damage already resolved")
	ErrNotDamaged           = errors.New("record is not damaged")
)

// forwardEdges holds the single user-triggered next stage for each status.
// Stages entered by external events are intentionally absent: the step into
// delivered_warehouse comes from a carrier-tracking webhook, so
// in_transit_inbound exposes no forward option to operators.
var forwardEdges = map[Status]Status{
	StatusPendingLabel:       StatusLabelSent,
	StatusLabelSent:          StatusInTransitInbound,
	StatusDeliveredWarehouse: StatusAtRestoration,
	StatusReceived:           StatusAtRestoration,
	StatusAtRestoration:      StatusReadyToShip,
	StatusReadyToShip:        StatusShipped,
	StatusShipped:            StatusDelivered,
}

// backwardEdges holds exactly one stage back per status. at_restoration
// steps back to delivered_warehouse, skipping the legacy received stage.
var backwardEdges = map[Status]Status{
	StatusLabelSent:          StatusPendingLabel,
	StatusInTransitInbound:   StatusLabelSent,
	StatusDeliveredWarehouse: StatusInTransitInbound,
	StatusReceived:           StatusDeliveredWarehouse,
	StatusAtRestoration:      StatusDeliveredWarehouse,
	StatusReadyToShip:        StatusAtRestoration,
	StatusShipped:            StatusReadyToShip,
}

// StageTimestamp names the timestamp field stamped when a stage is entered.
type StageTimestamp string

const (
	TSOrderCreated         StageTimestamp = "order_created_at"
	TSDeliveredToWarehouse StageTimestamp = "delivered_to_warehouse_at"
	TSReceived             StageTimestamp = "received_at"
	TSSentToRestoration    StageTimestamp = "sent_to_restoration_at"
	TSBackFromRestoration  StageTimestamp = "back_from_restoration_at"
	TSShipped              StageTimestamp = "shipped_at"
)

// stageTimestamps maps each stamped stage to its timestamp field. Stages
// with no entry (label_sent, in_transit_inbound, delivered) carry none.
var stageTimestamps = map[Status]StageTimestamp{
	StatusPendingLabel:       TSOrderCreated,
	StatusDeliveredWarehouse: TSDeliveredToWarehouse,
	StatusReceived:           TSReceived,
	StatusAtRestoration:      TSSentToRestoration,
	StatusReadyToShip:        TSBackFromRestoration,
	StatusShipped:            TSShipped,
}

// ForwardTransitions returns the user-triggered next stages from s. The
// result has at most one element; it is empty for terminal statuses and for
// stages whose successor is entered by an external event.
func ForwardTransitions(s Status) []Status {
	next, ok := forwardEdges[s]
	if !ok {
		return nil
	}
	return []Status{next}
}

// BackwardTransition returns the single previous stage for s, if any.
func BackwardTransition(s Status) (Status, bool) {
	prev, ok := backwardEdges[s]
	return prev, ok
}

// EnteredTimestamp returns the timestamp field stamped when s is entered.
func EnteredTimestamp(s Status) (StageTimestamp, bool) {
	ts, ok := stageTimestamps[s]
	return ts, ok
}

// TimestampsAfter lists the timestamp fields belonging to stages strictly
// later than the target stage. A backward transition clears exactly these.
func TimestampsAfter(target Status) []StageTimestamp {
	targetIdx := target.StageIndex()
	if targetIdx < 0 {
		return nil
	}
	var out []StageTimestamp
	for _, s := range AllStatuses() {
		idx := s.StageIndex()
		if idx <= targetIdx {
			continue
		}
		if ts, ok := stageTimestamps[s]; ok {
			out = append(out, ts)
		}
	}
	return out
}

// CanAdvance reports whether target is a legal forward, cancel, or damage
// edge from current. tagCount is the record's tag number count after any
// patch accompanying the transition; the check-in gate keeps an untagged
// item from entering at_restoration, since the tag is the only physical
// identifier once the item is on the refinishing floor.
func CanAdvance(current, target Status, tagCount int) error {
	if !current.Valid() || !target.Valid() {
		return ErrInvalidTransition
	}
	if target == StatusCancelled || target == StatusDamaged {
		if current.Terminal() {
			return ErrInvalidTransition
		}
		return nil
	}
	next, ok := forwardEdges[current]
	if !ok || next != target {
		return ErrInvalidTransition
	}
	if target == StatusAtRestoration && tagCount == 0 {
		return ErrCheckInGate
	}
	return nil
}

// CanRevert reports whether current has a backward edge and returns it.
func CanRevert(current Status) (Status, error) {
	if current.Terminal() {
		return "", ErrInvalidTransition
	}
	prev, ok := backwardEdges[current]
	if !ok {
		return "", ErrInvalidTransition
	}
	return prev, nil
}
