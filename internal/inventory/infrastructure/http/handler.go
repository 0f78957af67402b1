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

	"github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/inventory/domain"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

// Handler is the back-office inventory surface. Everything here is admin.
type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Routes(admin func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(admin)
	r.Post("/batches", h.create)
	r.Get("/batches", h.list)
	r.Get("/batches/{id}", h.get)
	r.Post("/batches/{id}/adjust", h.adjust)
	r.Post("/batch-history/{entryID}/void", h.void)
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

type batchResp struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	VariantName  string    `json:"variant_name"`
	MfgDate      string    `json:"mfg_date"`
	CostPerUnit  string    `json:"cost_per_unit"`
	InitialQty   int       `json:"initial_qty"`
	RemainingQty int       `json:"remaining_qty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func toBatchResp(b domain.Batch) batchResp {
	return batchResp{
		ID:           b.ID,
		Code:         b.Code,
		VariantName:  b.VariantName,
		MfgDate:      b.MfgDate.Format("2006-01-02"),
		CostPerUnit:  b.CostPerUnit.StringFixed(2),
		InitialQty:   b.InitialQty,
		RemainingQty: b.RemainingQty,
		IsActive:     b.IsActive,
		CreatedAt:    b.CreatedAt,
	}
}

type historyResp struct {
	ID         int64      `json:"id"`
	Type       string     `json:"type"`
	Quantity   int        `json:"quantity"`
	OrderID    *string    `json:"order_id,omitempty"`
	Note       string     `json:"note,omitempty"`
	IsVoided   bool       `json:"is_voided"`
	VoidReason string     `json:"void_reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`
}

type createBatchReq struct {
	Code        string          `json:"code"`
	VariantName string          `json:"variant_name"`
	MfgDate     string          `json:"mfg_date"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	InitialQty  int             `json:"initial_qty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateBatch")
	defer span.End()

	var req createBatchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.Validation("invalid_body"))
		return
	}
	mfg, err := time.Parse("2006-01-02", req.MfgDate)
	if err != nil {
		writeErr(w, apperror.Validation("invalid_mfg_date"))
		return
	}
	b, err := h.service.CreateBatch(ctx, application.CreateBatchInput{
		Code:        req.Code,
		VariantName: req.VariantName,
		MfgDate:     mfg,
		CostPerUnit: req.CostPerUnit,
		InitialQty:  req.InitialQty,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchResp(b))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	batches, err := h.service.ListBatches(r.Context(), application.BatchFilter{
		VariantName: q.Get("variant"),
		ActiveOnly:  q.Get("active") == "true",
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]batchResp, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResp(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, apperror.Validation("invalid_batch_id"))
		return
	}
	b, entries, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	hist := make([]historyResp, 0, len(entries))
	for _, e := range entries {
		hist = append(hist, historyResp{
			ID:         e.ID,
			Type:       string(e.Type),
			Quantity:   e.Quantity,
			OrderID:    e.OrderID,
			Note:       e.Note,
			IsVoided:   e.IsVoided,
			VoidReason: e.VoidReason,
			CreatedAt:  e.CreatedAt,
			VoidedAt:   e.VoidedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": toBatchResp(b), "history": hist})
}

type adjustReq struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdjustBatch")
	defer span.End()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErr(w, apperror.Validation("invalid_batch_id"))
		return
	}
	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.Validation("invalid_body"))
		return
	}
	b, err := h.service.ManualAdjust(ctx, id, req.Quantity, req.Note)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResp(b))
}

type voidReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "VoidBatchHistory")
	defer span.End()

	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		writeErr(w, apperror.Validation("invalid_entry_id"))
		return
	}
	var req voidReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, apperror.Validation("invalid_body"))
		return
	}
	b, err := h.service.VoidHistoryEntry(ctx, entryID, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResp(b))
}
