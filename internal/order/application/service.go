package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/pkg/tracing"
)

const orderIDAttempts = 3

type Config struct {
	Rules            walletdom.Rules
	FinancialRates   domain.FinancialRates
	CODFee           decimal.Decimal
	ReferralDiscount decimal.Decimal
	CoinExpiryDays   int
}

type Service struct {
	log       *slog.Logger
	repo      OrderRepository
	wallets   WalletReader
	referrals ReferralValidator
	courier   CourierClient
	refunds   RefundClient
	cfg       Config
}

func NewService(log *slog.Logger, repo OrderRepository, wallets WalletReader, referrals ReferralValidator, courier CourierClient, refunds RefundClient, cfg Config) *Service {
	return &Service{
		log:       log,
		repo:      repo,
		wallets:   wallets,
		referrals: referrals,
		courier:   courier,
		refunds:   refunds,
		cfg:       cfg,
	}
}

type CreateOrderInput struct {
	UserID        string
	CustomerName  string
	Phone         string
	PaymentMethod domain.PaymentMethod
	Items         []domain.LineItem
	ReferralCode  string
	RedeemCoins   int64
}

func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.Order, error) {
	if in.UserID == "" || in.Phone == "" {
		return domain.Order{}, apperror.Validation("missing_customer")
	}
	if len(in.Items) == 0 {
		return domain.Order{}, apperror.Validation("empty_order")
	}
	if in.PaymentMethod != domain.PaymentCOD && in.PaymentMethod != domain.PaymentPrepaid {
		return domain.Order{}, apperror.Validation("unknown_payment_method")
	}

	subtotal := decimal.Zero
	for _, it := range in.Items {
		if it.Quantity <= 0 || it.VariantName == "" {
			return domain.Order{}, apperror.Validation("invalid_line_item")
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	pricing := domain.Pricing{Subtotal: subtotal}
	if in.PaymentMethod == domain.PaymentCOD {
		pricing.CODFee = s.cfg.CODFee
	}

	var referral *domain.Referral
	if in.ReferralCode != "" {
		ref, err := s.referrals.Validate(ctx, in.ReferralCode, in.UserID, in.Phone, subtotal)
		if err != nil {
			return domain.Order{}, err
		}
		referral = ref
		pricing.Discount = s.cfg.ReferralDiscount
	}

	var debit *walletdom.Transaction
	if in.RedeemCoins > 0 {
		bal, err := s.wallets.Balance(ctx, in.UserID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := s.cfg.Rules.ValidateRedemption(in.RedeemCoins, bal.Active, subtotal); err != nil {
			return domain.Order{}, err
		}
		pricing.CoinsRedeemed = in.RedeemCoins
		pricing.CoinDiscount = s.cfg.Rules.Discount(in.RedeemCoins)
	}

	pricing.Total = pricing.Subtotal.Add(pricing.CODFee).Sub(pricing.Discount).Sub(pricing.CoinDiscount)
	if pricing.Total.IsNegative() {
		return domain.Order{}, apperror.Validation("total_negative")
	}

	traceparent := traceparentFrom(ctx)

	// Business order ids are short and human-quotable; collisions are retried
	// with a fresh id a bounded number of times.
	var lastErr error
	for attempt := 0; attempt < orderIDAttempts; attempt++ {
		o := domain.New(newOrderID(), in.UserID, in.CustomerName, in.Phone, in.PaymentMethod, in.Items, pricing)
		o.Referral = referral

		if pricing.CoinsRedeemed > 0 {
			oid := o.ID
			debit = &walletdom.Transaction{
				UserID:    in.UserID,
				OrderID:   &oid,
				Type:      walletdom.TypeDebit,
				Amount:    pricing.CoinsRedeemed,
				Status:    walletdom.StatusCompleted,
				Note:      "coins redeemed at checkout",
				CreatedAt: o.CreatedAt,
			}
		}

		payload, err := json.Marshal(domain.OrderCreated{
			OrderID:       o.ID,
			UserID:        o.UserID,
			PaymentMethod: string(o.PaymentMethod),
			Total:         o.Pricing.Total.String(),
			CoinsRedeemed: o.Pricing.CoinsRedeemed,
		})
		if err != nil {
			return domain.Order{}, err
		}

		err = s.repo.Create(ctx, &o, debit, payload, traceparent)
		if err == nil {
			s.log.Info("order created", "order_id", o.ID, "user_id", o.UserID, "total", o.Pricing.Total.String())
			return o, nil
		}
		if apperror.KindOf(err) == apperror.KindConflict {
			lastErr = err
			continue
		}
		return domain.Order{}, err
	}
	return domain.Order{}, apperror.Wrap(apperror.KindConflict, "order_id_exhausted", lastErr)
}

func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Order, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.repo.List(ctx, f)
}

type TransitionResult struct {
	Applied bool
	From    domain.OrderStatus
	To      domain.OrderStatus
	Detail  string
}

// UpdateStatus drives the state machine from any of the three sources. Every
// evaluated event is recorded in the shipping log whether applied or not.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, proposed domain.OrderStatus, source domain.Source, rawCode, rawDesc string) (TransitionResult, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.transition(ctx, o, proposed, source, rawCode, rawDesc)
}

// UpdateStatusByAWB is the webhook entry point: couriers key events by
// tracking number, not order id.
func (s *Service) UpdateStatusByAWB(ctx context.Context, awb string, proposed domain.OrderStatus, rawCode, rawDesc string) (TransitionResult, error) {
	o, err := s.repo.GetByAWB(ctx, awb)
	if err != nil {
		return TransitionResult{}, err
	}
	return s.transition(ctx, o, proposed, domain.SourceWebhook, rawCode, rawDesc)
}

func (s *Service) CancelByAdmin(ctx context.Context, orderID string) (TransitionResult, error) {
	return s.UpdateStatus(ctx, orderID, domain.StatusCancelled, domain.SourceAdmin, "admin", "cancelled by admin")
}

func (s *Service) CancelByCustomer(ctx context.Context, orderID, userID string) (TransitionResult, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return TransitionResult{}, err
	}
	if o.UserID != userID {
		return TransitionResult{}, apperror.NotFound("order_not_found")
	}
	return s.transition(ctx, o, domain.StatusCancelled, domain.SourceCustomer, "customer", "cancelled by customer")
}

func (s *Service) InitiateRTO(ctx context.Context, orderID string) (TransitionResult, error) {
	return s.UpdateStatus(ctx, orderID, domain.StatusRTOInitiated, domain.SourceAdmin, "admin", "rto initiated by admin")
}

func (s *Service) transition(ctx context.Context, o domain.Order, proposed domain.OrderStatus, source domain.Source, rawCode, rawDesc string) (TransitionResult, error) {
	rec := domain.ShippingLog{
		Proposed:       proposed,
		Source:         source,
		RawCode:        rawCode,
		RawDescription: rawDesc,
		CreatedAt:      time.Now().UTC(),
	}

	decision, err := domain.Evaluate(o.Status, proposed, source)
	if err != nil {
		rec.Detail = apperror.Reason(err)
		if logErr := s.repo.AppendShippingLog(ctx, o.ID, rec); logErr != nil {
			s.log.Error("shipping log append failed", "order_id", o.ID, "err", logErr)
		}
		return TransitionResult{From: o.Status, To: proposed}, err
	}
	if decision.Ignore {
		rec.Detail = decision.Detail
		if logErr := s.repo.AppendShippingLog(ctx, o.ID, rec); logErr != nil {
			s.log.Error("shipping log append failed", "order_id", o.ID, "err", logErr)
		}
		s.log.Info("status event ignored", "order_id", o.ID, "proposed", proposed, "current", o.Status, "detail", decision.Detail)
		return TransitionResult{From: o.Status, To: o.Status, Detail: decision.Detail}, nil
	}

	// Courier-side cancellation is the source of truth for whether
	// compensation is safe. It must succeed before the internal mutation;
	// when the event came from the courier itself there is nothing to call.
	if proposed == domain.StatusCancelled && o.Shipping.AWB != "" && source != domain.SourceWebhook {
		if err := s.courier.CancelShipment(ctx, o.Shipping.AWB); err != nil {
			rec.Detail = "courier cancellation failed"
			if logErr := s.repo.AppendShippingLog(ctx, o.ID, rec); logErr != nil {
				s.log.Error("shipping log append failed", "order_id", o.ID, "err", logErr)
			}
			return TransitionResult{From: o.Status, To: proposed},
				apperror.External("courier_cancel_failed", err)
		}
	}

	eff, err := s.buildEffects(ctx, o, proposed, source)
	if err != nil {
		return TransitionResult{}, err
	}

	rec.Applied = true
	if err := s.repo.ApplyTransition(ctx, o, rec, eff, traceparentFrom(ctx)); err != nil {
		return TransitionResult{}, err
	}

	// The gateway is called only once the cancellation has committed: a lost
	// version race must not issue a refund for an order that never left its
	// previous state.
	if eff.SetRefundStatus == domain.RefundInitiated {
		if err := s.refunds.Refund(ctx, o.ID, o.Pricing.Total); err != nil {
			s.log.Error("refund attempt failed", "order_id", o.ID, "err", err)
			if uerr := s.repo.SetRefundStatus(ctx, o.ID, domain.RefundFailed); uerr != nil {
				s.log.Error("refund status update failed", "order_id", o.ID, "err", uerr)
			}
		}
	}

	s.log.Info("order status changed",
		"order_id", o.ID, "from", o.Status, "to", proposed, "source", source)
	return TransitionResult{Applied: true, From: o.Status, To: proposed}, nil
}

// buildEffects binds side effects to boundary crossings. Effects key off
// what the order has not yet experienced (shipped stamp, coins flag) rather
// than the literal from/to pair, so a webhook that skips intermediate
// states still applies each effect exactly once.
func (s *Service) buildEffects(ctx context.Context, o domain.Order, proposed domain.OrderStatus, source domain.Source) (TransitionEffects, error) {
	eff := TransitionEffects{}

	crossesShipped := proposed.Ordinal() >= domain.StatusShipped.Ordinal()
	if crossesShipped && o.ShippedAt == nil {
		eff.StampShipped = true
		eff.AssignBatches = true
	}

	switch proposed {
	case domain.StatusDelivered:
		eff.StampDelivered = true
		eff.ComputeFinancials = true
		// Prepaid orders earned their reward at payment verification; the
		// coins_credited guard keeps the two paths mutually exclusive.
		if !o.CoinsCredited && o.PaymentMethod == domain.PaymentCOD {
			eff.SetCoinsCredited = true
			eff.WalletCredit = s.rewardCredit(o)
		}
		var rewarded int64
		if eff.WalletCredit != nil {
			rewarded = eff.WalletCredit.Amount
		}
		payload, err := json.Marshal(domain.OrderDelivered{OrderID: o.ID, CoinsCredited: rewarded})
		if err != nil {
			return eff, err
		}
		eff.EventType, eff.EventPayload = "OrderDelivered", payload

	case domain.StatusCancelled:
		eff.ReverseBatches = o.ShippedAt != nil
		if o.Pricing.CoinsRedeemed > 0 {
			eff.WalletCredit = s.coinReturnCredit(o)
		}
		if source == domain.SourceCustomer && o.Prepaid() && o.PaymentStatus == domain.PaymentStatusPaid && o.RefundStatus == domain.RefundNone {
			eff.SetRefundStatus = domain.RefundInitiated
		}
		payload, err := json.Marshal(domain.OrderCancelled{OrderID: o.ID, By: string(source), CoinsReturned: o.Pricing.CoinsRedeemed})
		if err != nil {
			return eff, err
		}
		eff.EventType, eff.EventPayload = "OrderCancelled", payload

	case domain.StatusRTOInitiated:
		payload, err := json.Marshal(domain.OrderRTOInitiated{OrderID: o.ID})
		if err != nil {
			return eff, err
		}
		eff.EventType, eff.EventPayload = "OrderRTOInitiated", payload

	case domain.StatusRTODelivered:
		// Returned stock is back in hand.
		eff.ReverseBatches = o.ShippedAt != nil
		payload, err := json.Marshal(domain.OrderStatusChanged{OrderID: o.ID, From: string(o.Status), To: string(proposed), Source: string(source)})
		if err != nil {
			return eff, err
		}
		eff.EventType, eff.EventPayload = "OrderStatusChanged", payload

	default:
		payload, err := json.Marshal(domain.OrderStatusChanged{OrderID: o.ID, From: string(o.Status), To: string(proposed), Source: string(source)})
		if err != nil {
			return eff, err
		}
		eff.EventType, eff.EventPayload = "OrderStatusChanged", payload
	}

	return eff, nil
}

func (s *Service) rewardCredit(o domain.Order) *walletdom.Transaction {
	oid := o.ID
	coins := s.cfg.Rules.RewardCoins(o.Pricing.Total)
	if coins <= 0 {
		return nil
	}
	expiry := time.Now().UTC().AddDate(0, 0, s.cfg.CoinExpiryDays)
	return &walletdom.Transaction{
		UserID:    o.UserID,
		OrderID:   &oid,
		Type:      walletdom.TypeCredit,
		Amount:    coins,
		Status:    walletdom.StatusCompleted,
		Note:      "delivery reward",
		ExpiresAt: &expiry,
		CreatedAt: time.Now().UTC(),
	}
}

func (s *Service) coinReturnCredit(o domain.Order) *walletdom.Transaction {
	oid := o.ID
	return &walletdom.Transaction{
		UserID:    o.UserID,
		OrderID:   &oid,
		Type:      walletdom.TypeCredit,
		Amount:    o.Pricing.CoinsRedeemed,
		Status:    walletdom.StatusCompleted,
		Note:      "coins returned on cancellation",
		CreatedAt: time.Now().UTC(),
	}
}

// CreateShipment books the parcel with the courier and moves the order to
// PACKED, storing the AWB. The external call happens first; a failure leaves
// the order untouched apart from the retry counter.
func (s *Service) CreateShipment(ctx context.Context, orderID string) (domain.Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.Status != domain.StatusPendingShipment {
		return domain.Order{}, apperror.IllegalTransition("shipment_requires_pending")
	}
	if o.Shipping.AWB != "" {
		return domain.Order{}, apperror.Conflict("shipment_already_created")
	}

	info, err := s.courier.CreateShipment(ctx, o)
	if err != nil {
		if bumpErr := s.repo.BumpShipmentRetry(ctx, o.ID); bumpErr != nil {
			s.log.Error("retry bump failed", "order_id", o.ID, "err", bumpErr)
		}
		return domain.Order{}, apperror.External("courier_booking_failed", err)
	}

	rec := domain.ShippingLog{
		Proposed:       domain.StatusPacked,
		Source:         domain.SourceAdmin,
		RawCode:        "manual_packing",
		RawDescription: "shipment created with " + info.Courier,
		Applied:        true,
		CreatedAt:      time.Now().UTC(),
	}
	eff := TransitionEffects{SetAWB: info.AWB, SetCourier: info.Courier}
	payload, err := json.Marshal(domain.OrderStatusChanged{OrderID: o.ID, From: string(o.Status), To: string(domain.StatusPacked), Source: string(domain.SourceAdmin)})
	if err != nil {
		return domain.Order{}, err
	}
	eff.EventType, eff.EventPayload = "OrderStatusChanged", payload

	if err := s.repo.ApplyTransition(ctx, o, rec, eff, traceparentFrom(ctx)); err != nil {
		return domain.Order{}, err
	}
	s.log.Info("shipment created", "order_id", o.ID, "awb", info.AWB, "courier", info.Courier)
	return s.repo.Get(ctx, o.ID)
}

// Track resolves by order id first, then by AWB. Courier unavailability
// degrades to "unavailable" rather than failing the request.
func (s *Service) Track(ctx context.Context, idOrAWB string) (domain.Order, TrackingInfo, error) {
	o, err := s.repo.Get(ctx, idOrAWB)
	if err != nil {
		if apperror.KindOf(err) != apperror.KindNotFound {
			return domain.Order{}, TrackingInfo{}, err
		}
		o, err = s.repo.GetByAWB(ctx, idOrAWB)
		if err != nil {
			return domain.Order{}, TrackingInfo{}, err
		}
	}
	if o.Shipping.AWB == "" {
		return o, TrackingInfo{Available: false}, nil
	}
	info, err := s.courier.Track(ctx, o.Shipping.AWB)
	if err != nil {
		s.log.Warn("courier tracking unavailable", "order_id", o.ID, "awb", o.Shipping.AWB, "err", err)
		return o, TrackingInfo{Available: false}, nil
	}
	return o, info, nil
}

func (s *Service) PurgeCorrupted(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeCorrupted(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("purged corrupted orders", "count", n)
	}
	return n, nil
}

func newOrderID() string {
	id := uuid.NewString()
	return "KM-" + strings.ToUpper(strings.ReplaceAll(id, "-", "")[:10])
}

func traceparentFrom(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier[tracing.TraceparentHeader]
}
