package domain

import (
	"fmt"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

type Source string

const (
	SourceAdmin    Source = "admin"
	SourceWebhook  Source = "webhook"
	SourceCustomer Source = "customer"
)

// cancellableBy lists the states each actor may cancel from. Couriers abort
// out of band, so the webhook escape hatch is handled separately in Evaluate.
var (
	adminCancelFrom = map[OrderStatus]bool{
		StatusPendingShipment: true,
		StatusPacked:          true,
	}
	customerCancelFrom = map[OrderStatus]bool{
		StatusPendingShipment: true,
	}
	rtoInitiateFrom = map[OrderStatus]bool{
		StatusShipped:        true,
		StatusOnTheWay:       true,
		StatusOutForDelivery: true,
	}
)

// Decision is the outcome of evaluating a proposed transition. Ignored (as
// opposed to rejected) means the event is recognized but stale or duplicate:
// webhook redeliveries land here and must be acknowledged, not errored.
type Decision struct {
	Apply  bool
	Ignore bool
	Detail string
}

// Evaluate decides whether proposed may replace current for the given
// source. It returns an error only for transitions that must be rejected
// outright; ignorable webhook events come back as a non-applying Decision.
func Evaluate(current, proposed OrderStatus, source Source) (Decision, error) {
	if !proposed.Valid() {
		return Decision{}, apperror.Validation("unknown_status")
	}
	if current == proposed {
		return Decision{Ignore: true, Detail: "status unchanged"}, nil
	}

	switch source {
	case SourceAdmin:
		return evaluateAdmin(current, proposed)
	case SourceCustomer:
		return evaluateCustomer(current, proposed)
	case SourceWebhook:
		return evaluateWebhook(current, proposed), nil
	default:
		return Decision{}, apperror.Validation("unknown_source")
	}
}

func evaluateAdmin(current, proposed OrderStatus) (Decision, error) {
	if current.Terminal() {
		return Decision{}, apperror.IllegalTransition("order_terminal")
	}
	switch proposed {
	case StatusCancelled:
		if !adminCancelFrom[current] {
			return Decision{}, apperror.IllegalTransition("cancel_not_allowed_from_" + string(current))
		}
	case StatusRTOInitiated:
		if !rtoInitiateFrom[current] {
			return Decision{}, apperror.IllegalTransition("rto_not_allowed_from_" + string(current))
		}
	case StatusRTODelivered:
		if current != StatusRTOInitiated {
			return Decision{}, apperror.IllegalTransition("rto_delivered_requires_rto_initiated")
		}
	}
	return Decision{Apply: true}, nil
}

func evaluateCustomer(current, proposed OrderStatus) (Decision, error) {
	if proposed != StatusCancelled {
		return Decision{}, apperror.IllegalTransition("customer_may_only_cancel")
	}
	if !customerCancelFrom[current] {
		return Decision{}, apperror.IllegalTransition("cancel_window_closed")
	}
	return Decision{Apply: true}, nil
}

// evaluateWebhook applies the monotonic-forward rule. External systems
// redeliver freely, so nothing here is an error: an event either advances
// the order or is recorded and ignored.
func evaluateWebhook(current, proposed OrderStatus) Decision {
	// Couriers can abort out of band from any live state.
	if proposed == StatusCancelled || proposed == StatusRTOInitiated {
		if current.Terminal() {
			return Decision{Ignore: true, Detail: fmt.Sprintf("order already %s", current)}
		}
		return Decision{Apply: true}
	}
	if proposed == StatusRTODelivered {
		if current == StatusRTOInitiated {
			return Decision{Apply: true}
		}
		return Decision{Ignore: true, Detail: "rto_delivered without rto_initiated"}
	}

	curOrd, propOrd := current.Ordinal(), proposed.Ordinal()
	if curOrd < 0 {
		// Order left the forward chain (RTO in progress); forward progress
		// reports from the original leg are stale.
		return Decision{Ignore: true, Detail: "order off forward chain"}
	}
	if propOrd <= curOrd {
		// Covers the stale "booked" replay after manual packing as well:
		// PENDING_SHIPMENT has ordinal 0 and never overwrites PACKED+.
		return Decision{Ignore: true, Detail: fmt.Sprintf("stale status %s, order already %s", proposed, current)}
	}
	return Decision{Apply: true}
}
