// Package domain maps the courier's vendor status vocabulary onto the
// internal order statuses.
package domain

import (
	"strings"

	order "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
)

// statusByCode is the vendor vocabulary. Codes arrive as strings even when
// numeric; keys are upper-cased before lookup. The table is data so support
// can extend it when the courier adds codes.
var statusByCode = map[string]order.OrderStatus{
	"0":  order.StatusPendingShipment,
	"1":  order.StatusPendingShipment,
	"2":  order.StatusShipped,
	"3":  order.StatusShipped,
	"9":  order.StatusShipped,
	"4":  order.StatusOnTheWay,
	"10": order.StatusOnTheWay,
	"15": order.StatusOnTheWay,
	"5":  order.StatusOutForDelivery,
	"7":  order.StatusDelivered,
	"DL": order.StatusDelivered,
	"8":  order.StatusCancelled,
	"UD": order.StatusRTOInitiated,
	"RT": order.StatusRTOInitiated,
}

// MapStatus resolves a vendor status code to an internal status. Unknown
// codes fall through to a substring heuristic for the courier's many "RTO"
// variants; a false return means the code is unmapped and the event must be
// recorded but not applied.
func MapStatus(code, description string) (order.OrderStatus, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if s, ok := statusByCode[c]; ok {
		return s, true
	}
	if strings.Contains(c, "RTO") || strings.Contains(strings.ToUpper(description), "RTO") {
		return order.StatusRTOInitiated, true
	}
	return "", false
}
