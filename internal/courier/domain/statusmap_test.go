package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	order "github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
)

func TestMapStatusTable(t *testing.T) {
	cases := []struct {
		code string
		want order.OrderStatus
	}{
		{"0", order.StatusPendingShipment},
		{"1", order.StatusPendingShipment},
		{"2", order.StatusShipped},
		{"3", order.StatusShipped},
		{"9", order.StatusShipped},
		{"4", order.StatusOnTheWay},
		{"10", order.StatusOnTheWay},
		{"15", order.StatusOnTheWay},
		{"5", order.StatusOutForDelivery},
		{"7", order.StatusDelivered},
		{"DL", order.StatusDelivered},
		{"dl", order.StatusDelivered},
		{"8", order.StatusCancelled},
		{"UD", order.StatusRTOInitiated},
		{"RT", order.StatusRTOInitiated},
		{"RTO-IT", order.StatusRTOInitiated},
	}
	for _, tc := range cases {
		got, ok := MapStatus(tc.code, "")
		require.True(t, ok, "code %q", tc.code)
		require.Equal(t, tc.want, got, "code %q", tc.code)
	}
}

func TestMapStatusRTOSubstringInDescription(t *testing.T) {
	got, ok := MapStatus("99", "Shipment RTO initiated at hub")
	require.True(t, ok)
	require.Equal(t, order.StatusRTOInitiated, got)
}

func TestMapStatusUnknown(t *testing.T) {
	_, ok := MapStatus("42", "In sorting facility")
	require.False(t, ok)

	_, ok = MapStatus("", "")
	require.False(t, ok)
}
