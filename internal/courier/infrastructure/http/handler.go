package http

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sangram4321/kasturi-masale-sub000/internal/courier/application"
	"github.com/Sangram4321/kasturi-masale-sub000/internal/platform/apperror"
)

// Handler exposes the courier callback endpoint. The courier panel only
// supports a static URL, so authentication is a token query parameter
// rather than a header.
type Handler struct {
	log        *slog.Logger
	reconciler *application.Reconciler
	token      string
	tracer     trace.Tracer
}

func NewHandler(log *slog.Logger, reconciler *application.Reconciler, token string) *Handler {
	return &Handler{
		log:        log,
		reconciler: reconciler,
		token:      token,
		tracer:     otel.Tracer("courier-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/webhook", h.handshake)
	r.Post("/webhook", h.receive)

	return r
}

type webhookReq struct {
	AWB               string `json:"awb_number"`
	StatusCode        string `json:"status_code"`
	StatusDescription string `json:"status_description"`
}

func (h *Handler) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

// handshake answers the courier panel's URL verification probe.
func (h *Handler) handshake(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CourierWebhook")
	defer span.End()

	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req webhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	res, err := h.reconciler.Process(ctx, application.Event{
		AWB:               req.AWB,
		StatusCode:        req.StatusCode,
		StatusDescription: req.StatusDescription,
	})
	if err != nil {
		h.log.Warn("webhook processing failed", "awb", req.AWB, "err", err)
		http.Error(w, apperror.Reason(err), apperror.HTTPStatus(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     string(res.Outcome),
		"updated":    res.Updated,
		"new_status": string(res.NewStatus),
	})
}
