package domain

// Integration events published through the transactional outbox.

type OrderCreated struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	PaymentMethod string `json:"payment_method"`
	Total         string `json:"total"`
	CoinsRedeemed int64  `json:"coins_redeemed"`
}

type OrderPaid struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

type OrderStatusChanged struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Source  string `json:"source"`
}

// OrderDelivered reports the coins actually credited by the delivery: zero
// for prepaid orders, which earned their reward at payment verification.
type OrderDelivered struct {
	OrderID       string `json:"order_id"`
	CoinsCredited int64  `json:"coins_credited"`
}

type OrderCancelled struct {
	OrderID       string `json:"order_id"`
	By            string `json:"by"`
	CoinsReturned int64  `json:"coins_returned"`
}

type OrderRTOInitiated struct {
	OrderID string `json:"order_id"`
}

type ReferralRewardCredited struct {
	OrderID    string `json:"order_id"`
	ReferrerID string `json:"referrer_id"`
	Coins      int64  `json:"coins"`
}
