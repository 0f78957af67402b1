package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/order/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/order/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/httpauth"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

// Routes mounts customer routes openly and back-office routes behind admin.
func (h *Handler) Routes(admin func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.create)
	r.Get("/orders/{id}", h.get)
	r.Get("/orders/{id}/track", h.track)
	r.Post("/orders/{id}/cancel", h.customerCancel)

	r.Group(func(r chi.Router) {
		r.Use(admin)
		r.Get("/admin/orders", h.list)
		r.Patch("/admin/orders/{id}/status", h.updateStatus)
		r.Post("/admin/orders/{id}/cancel", h.adminCancel)
		r.Post("/admin/orders/{id}/rto", h.initiateRTO)
		r.Post("/admin/orders/{id}/ship", h.createShipment)
		r.Post("/admin/orders/purge", h.purge)
	})
	return r
}

func writeErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperror.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperror.Reason(err)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type lineItemReq struct {
	VariantName string          `json:"variant_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createOrderReq struct {
	CustomerName  string        `json:"customer_name"`
	Phone         string        `json:"phone"`
	PaymentMethod string        `json:"payment_method"`
	Items         []lineItemReq `json:"items"`
	ReferralCode  string        `json:"referral_code"`
	RedeemCoins   int64         `json:"redeem_coins"`
}

type lineItemResp struct {
	VariantName string  `json:"variant_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   string  `json:"unit_price"`
	BatchCode   *string `json:"batch_code,omitempty"`
}

type shippingLogResp struct {
	Proposed  string    `json:"proposed"`
	Source    string    `json:"source"`
	RawCode   string    `json:"raw_code"`
	Applied   bool      `json:"applied"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type orderResp struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	CustomerName  string            `json:"customer_name"`
	Status        string            `json:"status"`
	PaymentMethod string            `json:"payment_method"`
	PaymentStatus string            `json:"payment_status"`
	RefundStatus  string            `json:"refund_status,omitempty"`
	Subtotal      string            `json:"subtotal"`
	CODFee        string            `json:"cod_fee"`
	Discount      string            `json:"discount"`
	CoinsRedeemed int64             `json:"coins_redeemed"`
	CoinDiscount  string            `json:"coin_discount"`
	Total         string            `json:"total"`
	AWB           string            `json:"awb,omitempty"`
	Courier       string            `json:"courier,omitempty"`
	Items         []lineItemResp    `json:"items"`
	ShippingLogs  []shippingLogResp `json:"shipping_logs,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	DeliveredAt   *time.Time        `json:"delivered_at,omitempty"`
}

func toOrderResp(o domain.Order) orderResp {
	resp := orderResp{
		ID:            o.ID,
		UserID:        o.UserID,
		CustomerName:  o.CustomerName,
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		Subtotal:      o.Pricing.Subtotal.StringFixed(2),
		CODFee:        o.Pricing.CODFee.StringFixed(2),
		Discount:      o.Pricing.Discount.StringFixed(2),
		CoinsRedeemed: o.Pricing.CoinsRedeemed,
		CoinDiscount:  o.Pricing.CoinDiscount.StringFixed(2),
		Total:         o.Pricing.Total.StringFixed(2),
		AWB:           o.Shipping.AWB,
		Courier:       o.Shipping.Courier,
		CreatedAt:     o.CreatedAt,
		DeliveredAt:   o.DeliveredAt,
	}
	if o.RefundStatus != domain.RefundNone {
		resp.RefundStatus = string(o.RefundStatus)
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, lineItemResp{
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			BatchCode:   it.BatchCode,
		})
	}
	for _, l := range o.Shipping.Logs {
		resp.ShippingLogs = append(resp.ShippingLogs, shippingLogResp{
			Proposed:  string(l.Proposed),
			Source:    string(l.Source),
			RawCode:   l.RawCode,
			Applied:   l.Applied,
			Detail:    l.Detail,
			CreatedAt: l.CreatedAt,
		})
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.Validation("invalid_body"))
		return
	}

	items := make([]domain.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.LineItem{
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	o, err := h.service.CreateOrder(ctx, application.CreateOrderInput{
		UserID:        httpauth.UserID(r),
		CustomerName:  req.CustomerName,
		Phone:         req.Phone,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Items:         items,
		ReferralCode:  req.ReferralCode,
		RedeemCoins:   req.RedeemCoins,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	orders, err := h.service.List(r.Context(), application.ListFilter{
		Status: domain.OrderStatus(q.Get("status")),
		UserID: q.Get("user_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]orderResp, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResp(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

type updateStatusReq struct {
	Status string `json:"status"`
}

type transitionResp struct {
	Applied bool   `json:"applied"`
	From    string `json:"from"`
	To      string `json:"to"`
	Detail  string `json:"detail,omitempty"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminUpdateStatus")
	defer span.End()

	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.Validation("invalid_body"))
		return
	}
	res, err := h.service.UpdateStatus(ctx, chi.URLParam(r, "id"),
		domain.OrderStatus(req.Status), domain.SourceAdmin, "manual", "admin panel update")
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResp{Applied: res.Applied, From: string(res.From), To: string(res.To), Detail: res.Detail})
}

func (h *Handler) adminCancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminCancelOrder")
	defer span.End()

	res, err := h.service.CancelByAdmin(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResp{Applied: res.Applied, From: string(res.From), To: string(res.To)})
}

func (h *Handler) customerCancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CustomerCancelOrder")
	defer span.End()

	res, err := h.service.CancelByCustomer(ctx, chi.URLParam(r, "id"), httpauth.UserID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResp{Applied: res.Applied, From: string(res.From), To: string(res.To)})
}

func (h *Handler) initiateRTO(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "InitiateRTO")
	defer span.End()

	res, err := h.service.InitiateRTO(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResp{Applied: res.Applied, From: string(res.From), To: string(res.To)})
}

func (h *Handler) createShipment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateShipment")
	defer span.End()

	o, err := h.service.CreateShipment(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *Handler) track(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "TrackOrder")
	defer span.End()

	o, info, err := h.service.Track(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": o.ID,
		"status":   string(o.Status),
		"tracking": info,
	})
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.PurgeCorrupted(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}
