package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	walletdom "github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
)

type fakeRepo struct {
	orders    map[string]*domain.Order
	logs      map[string][]domain.ShippingLog
	credits   []walletdom.Transaction
	debits    []walletdom.Transaction
	events    []string
	payloads  map[string][]byte
	assigns   int
	reversals int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders:   map[string]*domain.Order{},
		logs:     map[string][]domain.ShippingLog{},
		payloads: map[string][]byte{},
	}
}

func (r *fakeRepo) Create(_ context.Context, o *domain.Order, debit *walletdom.Transaction, _ []byte, _ string) error {
	if _, ok := r.orders[o.ID]; ok {
		return apperror.Conflict("order_id_exists")
	}
	cp := *o
	r.orders[o.ID] = &cp
	if debit != nil {
		r.debits = append(r.debits, *debit)
	}
	r.events = append(r.events, "OrderCreated")
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id string) (domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, apperror.NotFound("order_not_found")
	}
	return *o, nil
}

func (r *fakeRepo) GetByAWB(_ context.Context, awb string) (domain.Order, error) {
	for _, o := range r.orders {
		if o.Shipping.AWB == awb {
			return *o, nil
		}
	}
	return domain.Order{}, apperror.NotFound("order_not_found")
}

func (r *fakeRepo) List(_ context.Context, _ ListFilter) ([]domain.Order, error) { return nil, nil }

func (r *fakeRepo) ApplyTransition(_ context.Context, o domain.Order, rec domain.ShippingLog, eff TransitionEffects, _ string) error {
	cur := r.orders[o.ID]
	if cur.Version != o.Version {
		return apperror.Conflict("order_version_conflict")
	}
	cur.Status = rec.Proposed
	cur.Version++
	now := time.Now().UTC()
	if eff.SetAWB != "" {
		cur.Shipping.AWB = eff.SetAWB
		cur.Shipping.Courier = eff.SetCourier
	}
	if eff.StampShipped {
		cur.ShippedAt = &now
	}
	if eff.StampDelivered {
		cur.DeliveredAt = &now
	}
	if eff.AssignBatches {
		r.assigns++
	}
	if eff.ReverseBatches {
		r.reversals++
	}
	if eff.WalletCredit != nil {
		r.credits = append(r.credits, *eff.WalletCredit)
	}
	if eff.SetCoinsCredited {
		cur.CoinsCredited = true
	}
	if eff.ComputeFinancials {
		cur.Financials = &domain.FinancialSnapshot{ComputedAt: now}
	}
	if eff.SetRefundStatus != "" {
		cur.RefundStatus = eff.SetRefundStatus
	}
	r.logs[o.ID] = append(r.logs[o.ID], rec)
	if eff.EventType != "" {
		r.events = append(r.events, eff.EventType)
		r.payloads[eff.EventType] = eff.EventPayload
	}
	return nil
}

func (r *fakeRepo) SetRefundStatus(_ context.Context, orderID string, st domain.RefundStatus) error {
	r.orders[orderID].RefundStatus = st
	return nil
}

func (r *fakeRepo) AppendShippingLog(_ context.Context, orderID string, rec domain.ShippingLog) error {
	r.logs[orderID] = append(r.logs[orderID], rec)
	return nil
}

func (r *fakeRepo) BumpShipmentRetry(_ context.Context, orderID string) error {
	r.orders[orderID].Shipping.RetryCount++
	return nil
}

func (r *fakeRepo) PurgeCorrupted(context.Context) (int64, error) { return 0, nil }

type fakeWallets struct{ active int64 }

func (w fakeWallets) Balance(context.Context, string) (walletdom.Balance, error) {
	return walletdom.Balance{Active: w.active}, nil
}

type fakeReferrals struct{ fail error }

func (f fakeReferrals) Validate(_ context.Context, code, _, _ string, _ decimal.Decimal) (*domain.Referral, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return &domain.Referral{Code: code, ReferrerID: "u-ref", RewardStatus: domain.RewardPendingMaturation}, nil
}

type fakeCourier struct {
	cancelErr error
	createErr error
	cancels   int
}

func (c *fakeCourier) CreateShipment(context.Context, domain.Order) (ShipmentInfo, error) {
	if c.createErr != nil {
		return ShipmentInfo{}, c.createErr
	}
	return ShipmentInfo{AWB: "AWB-777", Courier: "shipmozo"}, nil
}

func (c *fakeCourier) CancelShipment(context.Context, string) error {
	c.cancels++
	return c.cancelErr
}

func (c *fakeCourier) Track(context.Context, string) (TrackingInfo, error) {
	return TrackingInfo{Available: true, Status: "IN_TRANSIT"}, nil
}

type fakeRefunds struct {
	err   error
	calls int
}

func (f *fakeRefunds) Refund(context.Context, string, decimal.Decimal) error {
	f.calls++
	return f.err
}

func testConfig() Config {
	return Config{
		Rules: walletdom.DefaultRules(),
		FinancialRates: domain.FinancialRates{
			GSTRate:       decimal.RequireFromString("0.18"),
			ShippingFlat:  decimal.NewFromInt(70),
			PackagingFlat: decimal.NewFromInt(15),
			GatewayFeePct: decimal.RequireFromString("0.02"),
		},
		CODFee:           decimal.NewFromInt(30),
		ReferralDiscount: decimal.NewFromInt(50),
		CoinExpiryDays:   365,
	}
}

func newTestService(repo *fakeRepo, courier *fakeCourier, refunds *fakeRefunds, balance int64) *Service {
	log := slog.New(slog.DiscardHandler)
	return NewService(log, repo, fakeWallets{active: balance}, fakeReferrals{}, courier, refunds, testConfig())
}

func items(price int64, qty int) []domain.LineItem {
	return []domain.LineItem{{VariantName: "Garam Masala 100g", Quantity: qty, UnitPrice: decimal.NewFromInt(price)}}
}

func TestCreateOrderWithRedemption(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 500)

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentPrepaid,
		Items:         items(500, 1),
		RedeemCoins:   100,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPendingShipment, o.Status)
	// 500 - 100*0.8 = 420, no COD fee on prepaid.
	require.True(t, o.Pricing.Total.Equal(decimal.NewFromInt(420)), "total=%s", o.Pricing.Total)
	require.Len(t, repo.debits, 1)
	require.EqualValues(t, 100, repo.debits[0].Amount)
	require.Equal(t, walletdom.TypeDebit, repo.debits[0].Type)
}

func TestCreateOrderRedemptionCapRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 1000)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentPrepaid,
		Items:         items(100, 1),
		RedeemCoins:   100, // 80 > 30% of 100
	})
	require.Error(t, err)
	require.Equal(t, "redeem_exceeds_cap", apperror.Reason(err))
	require.Empty(t, repo.debits, "no debit on rejected redemption")
	require.Empty(t, repo.orders)
}

func TestDeliveredCreditsOnce(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 0)

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentCOD,
		Items:         items(570, 1),
	})
	require.NoError(t, err)

	res, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusDelivered, domain.SourceAdmin, "admin", "")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Len(t, repo.credits, 1)
	// 5% of 600 (570 + 30 COD fee)
	require.EqualValues(t, 30, repo.credits[0].Amount)
	require.NotNil(t, repo.orders[o.ID].Financials)
	require.NotNil(t, repo.orders[o.ID].DeliveredAt)

	var evt domain.OrderDelivered
	require.NoError(t, json.Unmarshal(repo.payloads["OrderDelivered"], &evt))
	require.EqualValues(t, 30, evt.CoinsCredited)

	// A second DELIVERED event is ignored and must not credit again.
	res, err = svc.UpdateStatus(context.Background(), o.ID, domain.StatusDelivered, domain.SourceWebhook, "7", "Delivered")
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Len(t, repo.credits, 1)
}

func TestWebhookSkipAheadAssignsBatchesOnce(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentCOD,
		Items:         items(500, 1),
	})

	// Webhook jumps straight past SHIPPED: allocation still runs exactly once.
	_, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusOutForDelivery, domain.SourceWebhook, "5", "")
	require.NoError(t, err)
	require.Equal(t, 1, repo.assigns)
	require.NotNil(t, repo.orders[o.ID].ShippedAt)

	_, err = svc.UpdateStatus(context.Background(), o.ID, domain.StatusDelivered, domain.SourceWebhook, "7", "")
	require.NoError(t, err)
	require.Equal(t, 1, repo.assigns, "allocation must not rerun at delivery")
}

func TestCancelFailClosedOnCourierError(t *testing.T) {
	repo := newFakeRepo()
	courier := &fakeCourier{cancelErr: errors.New("courier 500")}
	svc := newTestService(repo, courier, &fakeRefunds{}, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentCOD,
		Items:         items(500, 1),
	})
	_, err := svc.CreateShipment(context.Background(), o.ID)
	require.NoError(t, err)

	_, err = svc.CancelByAdmin(context.Background(), o.ID)
	require.Error(t, err)
	require.Equal(t, apperror.KindExternal, apperror.KindOf(err))
	require.Equal(t, domain.StatusPacked, repo.orders[o.ID].Status, "internal state must not change")

	// The rejected attempt is still on the forensic log.
	logs := repo.logs[o.ID]
	last := logs[len(logs)-1]
	require.False(t, last.Applied)
	require.Equal(t, domain.StatusCancelled, last.Proposed)
}

func TestCancelReturnsRedeemedCoins(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 500)

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentPrepaid,
		Items:         items(500, 1),
		RedeemCoins:   100,
	})
	require.NoError(t, err)

	res, err := svc.CancelByCustomer(context.Background(), o.ID, "u1")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Len(t, repo.credits, 1)
	require.EqualValues(t, 100, repo.credits[0].Amount)
	require.Equal(t, "coins returned on cancellation", repo.credits[0].Note)
}

func TestCustomerCancelPrepaidRefundFailureStillCancels(t *testing.T) {
	repo := newFakeRepo()
	refunds := &fakeRefunds{err: errors.New("gateway down")}
	svc := newTestService(repo, &fakeCourier{}, refunds, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentPrepaid,
		Items:         items(500, 1),
	})
	repo.orders[o.ID].PaymentStatus = domain.PaymentStatusPaid

	res, err := svc.CancelByCustomer(context.Background(), o.ID, "u1")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, 1, refunds.calls)
	require.Equal(t, domain.StatusCancelled, repo.orders[o.ID].Status)
	require.Equal(t, domain.RefundFailed, repo.orders[o.ID].RefundStatus)
}

func TestCustomerCannotCancelOthersOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentCOD,
		Items:         items(500, 1),
	})

	_, err := svc.CancelByCustomer(context.Background(), o.ID, "u2")
	require.Error(t, err)
	require.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestWebhookBackwardIgnoredAndLogged(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentCOD,
		Items:         items(500, 1),
	})
	_, err := svc.CreateShipment(context.Background(), o.ID)
	require.NoError(t, err)

	res, err := svc.UpdateStatusByAWB(context.Background(), "AWB-777", domain.StatusShipped, "2", "In Transit")
	require.NoError(t, err)
	require.True(t, res.Applied)

	// Stale "booked" replay after packing/shipping.
	res, err = svc.UpdateStatusByAWB(context.Background(), "AWB-777", domain.StatusPendingShipment, "1", "Booked")
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Equal(t, domain.StatusShipped, repo.orders[o.ID].Status)

	logs := repo.logs[o.ID]
	last := logs[len(logs)-1]
	require.False(t, last.Applied)
	require.Equal(t, "1", last.RawCode)
}

func TestCreateShipmentFailureBumpsRetry(t *testing.T) {
	repo := newFakeRepo()
	courier := &fakeCourier{createErr: errors.New("courier down")}
	svc := newTestService(repo, courier, &fakeRefunds{}, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentCOD,
		Items:         items(500, 1),
	})

	_, err := svc.CreateShipment(context.Background(), o.ID)
	require.Error(t, err)
	require.Equal(t, apperror.KindExternal, apperror.KindOf(err))
	require.Equal(t, 1, repo.orders[o.ID].Shipping.RetryCount)
	require.Equal(t, domain.StatusPendingShipment, repo.orders[o.ID].Status)
}

func TestDeliveredEventPrepaidReportsNoCoins(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentPrepaid,
		Items:         items(500, 1),
	})
	// The payment webhook already granted the reward.
	repo.orders[o.ID].PaymentStatus = domain.PaymentStatusPaid
	repo.orders[o.ID].CoinsCredited = true

	_, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusDelivered, domain.SourceAdmin, "admin", "")
	require.NoError(t, err)
	require.Empty(t, repo.credits)

	var evt domain.OrderDelivered
	require.NoError(t, json.Unmarshal(repo.payloads["OrderDelivered"], &evt))
	require.Zero(t, evt.CoinsCredited)
}

func TestWebhookCancelAfterShipmentReversesAllocation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentCOD,
		Items:         items(500, 1),
	})
	_, err := svc.CreateShipment(context.Background(), o.ID)
	require.NoError(t, err)
	_, err = svc.UpdateStatusByAWB(context.Background(), "AWB-777", domain.StatusShipped, "2", "In Transit")
	require.NoError(t, err)
	require.Equal(t, 1, repo.assigns)

	res, err := svc.UpdateStatusByAWB(context.Background(), "AWB-777", domain.StatusCancelled, "8", "Cancelled")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, 1, repo.reversals, "allocated stock must return to its batches")
}

func TestRTODeliveredRestoresStock(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeCourier{}, &fakeRefunds{}, 0)

	o, _ := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentCOD,
		Items:         items(500, 1),
	})
	_, err := svc.CreateShipment(context.Background(), o.ID)
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), o.ID, domain.StatusShipped, domain.SourceAdmin, "admin", "")
	require.NoError(t, err)
	_, err = svc.InitiateRTO(context.Background(), o.ID)
	require.NoError(t, err)
	require.Zero(t, repo.reversals, "stock is still with the courier")

	res, err := svc.UpdateStatus(context.Background(), o.ID, domain.StatusRTODelivered, domain.SourceAdmin, "admin", "returned to origin")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, 1, repo.reversals)
	require.Equal(t, domain.StatusRTODelivered, repo.orders[o.ID].Status)
}

// conflictOnceRepo loses the first version CAS, like a concurrent webhook
// racing the customer's cancellation.
type conflictOnceRepo struct {
	*fakeRepo
	conflicts int
}

func (r *conflictOnceRepo) ApplyTransition(ctx context.Context, o domain.Order, rec domain.ShippingLog, eff TransitionEffects, tp string) error {
	if r.conflicts > 0 {
		r.conflicts--
		return apperror.Conflict("order_version_conflict")
	}
	return r.fakeRepo.ApplyTransition(ctx, o, rec, eff, tp)
}

func TestCancelRetryAfterVersionConflictRefundsOnce(t *testing.T) {
	repo := &conflictOnceRepo{fakeRepo: newFakeRepo(), conflicts: 1}
	refunds := &fakeRefunds{}
	log := slog.New(slog.DiscardHandler)
	svc := NewService(log, repo, fakeWallets{}, fakeReferrals{}, &fakeCourier{}, refunds, testConfig())

	o, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: "u1", CustomerName: "Asha", Phone: "9900112233",
		PaymentMethod: domain.PaymentPrepaid,
		Items:         items(500, 1),
	})
	require.NoError(t, err)
	repo.orders[o.ID].PaymentStatus = domain.PaymentStatusPaid

	// Lost race: no state change committed, so no money may move.
	_, err = svc.CancelByCustomer(context.Background(), o.ID, "u1")
	require.Error(t, err)
	require.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	require.Zero(t, refunds.calls, "refund must not fire for an uncommitted cancellation")
	require.NotEqual(t, domain.StatusCancelled, repo.orders[o.ID].Status)

	// The retry commits and refunds exactly once.
	res, err := svc.CancelByCustomer(context.Background(), o.ID, "u1")
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, 1, refunds.calls)
	require.Equal(t, domain.RefundInitiated, repo.orders[o.ID].RefundStatus)
}
