package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/httpauth"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/wallet/domain"
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
		tracer:  otel.Tracer("wallet-http"),
	}
}

func (h *Handler) Routes(admin func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.ownWallet)

	r.Group(func(r chi.Router) {
		r.Use(admin)
		r.Get("/admin/{userID}", h.userWallet)
		r.Post("/admin/adjust", h.adjust)
		r.Get("/admin/pending", h.pending)
		r.Post("/admin/pending/{txnID}/resolve", h.resolve)
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

type txnResp struct {
	ID        int64      `json:"id"`
	OrderID   *string    `json:"order_id,omitempty"`
	Type      string     `json:"type"`
	Amount    int64      `json:"amount"`
	Status    string     `json:"status"`
	Note      string     `json:"note,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type walletResp struct {
	Active  int64     `json:"active_coins"`
	Pending int64     `json:"pending_coins"`
	Tier    string    `json:"tier"`
	History []txnResp `json:"history"`
}

func toWalletResp(v application.WalletView) walletResp {
	resp := walletResp{
		Active:  v.Balance.Active,
		Pending: v.Balance.Pending,
		Tier:    string(v.Tier),
		History: make([]txnResp, 0, len(v.History)),
	}
	for _, t := range v.History {
		resp.History = append(resp.History, toTxnResp(t))
	}
	return resp
}

func toTxnResp(t domain.Transaction) txnResp {
	return txnResp{
		ID:        t.ID,
		OrderID:   t.OrderID,
		Type:      string(t.Type),
		Amount:    t.Amount,
		Status:    string(t.Status),
		Note:      t.Note,
		Reason:    string(t.Reason),
		ExpiresAt: t.ExpiresAt,
		CreatedAt: t.CreatedAt,
	}
}

func (h *Handler) ownWallet(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetWallet")
	defer span.End()

	userID := httpauth.UserID(r)
	if userID == "" {
		writeErr(w, apperror.Validation("missing_user"))
		return
	}
	h.renderWallet(ctx, w, r, userID)
}

func (h *Handler) userWallet(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminGetWallet")
	defer span.End()
	h.renderWallet(ctx, w, r, chi.URLParam(r, "userID"))
}

func (h *Handler) renderWallet(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	view, err := h.service.GetWallet(ctx, userID, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletResp(view))
}

type adjustReq struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdminAdjustWallet")
	defer span.End()

	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.Validation("invalid_body"))
		return
	}
	err := h.service.AdminAdjust(ctx, application.AdjustInput{
		UserID:  req.UserID,
		Type:    domain.TxnType(req.Type),
		Amount:  req.Amount,
		Reason:  domain.AdjustReason(req.Reason),
		Note:    req.Note,
		ActorID: r.Header.Get("X-Admin-ID"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "adjusted"})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := h.service.SearchPending(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]txnResp, 0, len(txns))
	for _, t := range txns {
		out = append(out, toTxnResp(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out})
}

type resolveReq struct {
	Approve bool `json:"approve"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ResolvePendingTxn")
	defer span.End()

	txnID, err := strconv.ParseInt(chi.URLParam(r, "txnID"), 10, 64)
	if err != nil {
		writeErr(w, apperror.Validation("invalid_txn_id"))
		return
	}
	var req resolveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.Validation("invalid_body"))
		return
	}
	if err := h.service.ResolvePending(ctx, txnID, req.Approve, r.Header.Get("X-Admin-ID")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
