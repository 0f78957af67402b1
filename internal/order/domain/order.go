package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPendingShipment OrderStatus = "PENDING_SHIPMENT"
	StatusPacked          OrderStatus = "PACKED"
	StatusShipped         OrderStatus = "SHIPPED"
	StatusOnTheWay        OrderStatus = "ON_THE_WAY"
	StatusOutForDelivery  OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered       OrderStatus = "DELIVERED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRTOInitiated    OrderStatus = "RTO_INITIATED"
	StatusRTODelivered    OrderStatus = "RTO_DELIVERED"
)

// forwardOrdinal is the explicit ordering behind the webhook monotonicity
// rule. Branch statuses (CANCELLED, RTO_*) deliberately have no ordinal;
// their legality is decided by the transition table, not by position.
var forwardOrdinal = map[OrderStatus]int{
	StatusPendingShipment: 0,
	StatusPacked:          1,
	StatusShipped:         2,
	StatusOnTheWay:        3,
	StatusOutForDelivery:  4,
	StatusDelivered:       5,
}

// Ordinal returns the forward-chain position of s, or -1 for branch statuses.
func (s OrderStatus) Ordinal() int {
	if o, ok := forwardOrdinal[s]; ok {
		return o
	}
	return -1
}

func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRTODelivered
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPendingShipment, StatusPacked, StatusShipped, StatusOnTheWay,
		StatusOutForDelivery, StatusDelivered, StatusCancelled,
		StatusRTOInitiated, StatusRTODelivered:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCOD     PaymentMethod = "COD"
	PaymentPrepaid PaymentMethod = "PREPAID"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

type RefundStatus string

const (
	RefundNone      RefundStatus = "NONE"
	RefundInitiated RefundStatus = "INITIATED"
	RefundFailed    RefundStatus = "FAILED"
)

type RewardStatus string

const (
	RewardPendingMaturation RewardStatus = "PENDING_MATURATION"
	RewardCredited          RewardStatus = "CREDITED"
	RewardVoid              RewardStatus = "VOID"
)

// Order is the aggregate root. Status is the single source of truth for
// fulfillment progress; there is no mirrored shipment status anywhere.
type Order struct {
	ID            string
	UserID        string
	CustomerName  string
	Phone         string
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	RefundStatus  RefundStatus
	Status        OrderStatus
	Items         []LineItem
	Pricing       Pricing
	Shipping      Shipping
	Referral      *Referral
	CoinsCredited bool
	Financials    *FinancialSnapshot
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
}

type LineItem struct {
	ID                int64
	VariantName       string
	Quantity          int
	UnitPrice         decimal.Decimal
	BatchCode         *string
	CostAtTimeOfOrder *decimal.Decimal
}

// Pricing is immutable once the order is created.
type Pricing struct {
	Subtotal      decimal.Decimal
	CODFee        decimal.Decimal
	Discount      decimal.Decimal
	CoinsRedeemed int64
	CoinDiscount  decimal.Decimal
	Total         decimal.Decimal
}

type Shipping struct {
	AWB        string
	Courier    string
	RetryCount int
	Logs       []ShippingLog
}

// ShippingLog is one append-only record per evaluated status event, applied
// or not, keeping the raw external code for forensic replay.
type ShippingLog struct {
	ID             int64
	Proposed       OrderStatus
	Source         Source
	RawCode        string
	RawDescription string
	Applied        bool
	Detail         string
	CreatedAt      time.Time
}

type Referral struct {
	Code         string
	ReferrerID   string
	RewardStatus RewardStatus
}

func New(id, userID, name, phone string, method PaymentMethod, items []LineItem, pricing Pricing) Order {
	now := time.Now().UTC()
	return Order{
		ID:            id,
		UserID:        userID,
		CustomerName:  name,
		Phone:         phone,
		PaymentMethod: method,
		PaymentStatus: PaymentStatusPending,
		RefundStatus:  RefundNone,
		Status:        StatusPendingShipment,
		Items:         items,
		Pricing:       pricing,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Prepaid reports whether the order was paid online. COD orders collect on
// delivery and earn their reward coins at delivery instead of at payment.
func (o Order) Prepaid() bool { return o.PaymentMethod == PaymentPrepaid }
