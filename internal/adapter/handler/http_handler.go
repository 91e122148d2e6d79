package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-pipeline/internal/config"
	"github.com/rl1809/order-pipeline/internal/core/domain"
	"github.com/rl1809/order-pipeline/internal/core/service"
	"github.com/rl1809/order-pipeline/internal/metrics"
)

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	orderService *service.OrderService
	poller       *service.Poller
	poison       *service.PoisonSink
	waitOnCreate bool
	log          zerolog.Logger
}

type CreateOrderHTTPRequest struct {
	CustomerID string `json:"CustomerId"`
	ProductID  string `json:"ProductId"`
	Quantity   int    `json:"Quantity"`
}

type CreateOrderHTTPResponse struct {
	Order   OrderResponse `json:"Order"`
	Visible bool          `json:"Visible"`
}

type UpdateStatusHTTPRequest struct {
	Status    string `json:"Status"`
	UpdatedBy string `json:"UpdatedBy"`
}

type OrderResponse struct {
	OrderID      string          `json:"OrderId"`
	CustomerID   string          `json:"CustomerId"`
	CustomerName string          `json:"CustomerName"`
	ProductID    string          `json:"ProductId"`
	ProductName  string          `json:"ProductName"`
	Quantity     int             `json:"Quantity"`
	UnitPrice    decimal.Decimal `json:"UnitPrice"`
	TotalAmount  decimal.Decimal `json:"TotalAmount"`
	OrderDateUTC time.Time       `json:"OrderDateUtc"`
	Status       string          `json:"Status"`
	Version      int             `json:"Version,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"Error"`
	Message string `json:"Message,omitempty"`
}

func NewHTTPHandler(orderService *service.OrderService, poller *service.Poller, poison *service.PoisonSink, cfg config.PollConfig, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		orderService: orderService,
		poller:       poller,
		poison:       poison,
		waitOnCreate: cfg.WaitOnCreate,
		log:          log.With().Str("component", "http").Logger(),
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(h.log))
	r.Use(requestIDField)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Delete("/{id}", h.DeleteOrder)
		for _, method := range []string{http.MethodPatch, http.MethodPut, http.MethodPost} {
			r.Method(method, "/{id}/status", http.HandlerFunc(h.UpdateStatus))
		}
	})
	r.Get("/admin/poison", h.ListPoison)
	return r
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	wait, policy, err := h.pollPolicy(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary, err := h.orderService.Create(r.Context(), service.CreateOrderRequest{
		CustomerID:     req.CustomerID,
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	visible := false
	if wait {
		visible = h.poller.AwaitVisible(r.Context(), summary.ID, policy) == service.Visible
	}

	w.Header().Set("Location", "/orders/"+summary.ID)
	writeJSON(w, http.StatusCreated, CreateOrderHTTPResponse{
		Order:   summaryResponse(summary),
		Visible: visible,
	})
}

// pollPolicy reads ?wait=, ?attempts= and ?delay= overrides of the convergence wait.
func (h *HTTPHandler) pollPolicy(r *http.Request) (bool, service.Policy, error) {
	q := r.URL.Query()
	wait := h.waitOnCreate
	if v := q.Get("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, service.Policy{}, errBadQuery("wait")
		}
		wait = b
	}

	policy := h.poller.DefaultPolicy()
	if v := q.Get("attempts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return false, service.Policy{}, errBadQuery("attempts")
		}
		policy.MaxAttempts = n
	}
	if v := q.Get("delay"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return false, service.Policy{}, errBadQuery("delay")
		}
		policy.Delay = d
	}
	if err := h.poller.Check(policy); err != nil {
		return false, service.Policy{}, err
	}
	return wait, policy, nil
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(*order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	orders, err := h.orderService.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, orderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	order, err := h.orderService.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.UpdatedBy)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse(*order))
}

func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orderService.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) ListPoison(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.poison.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeJSONError(w, "internal server error", status)
		return
	}
	writeJSONError(w, err.Error(), status)
}

func summaryResponse(s domain.OrderSummary) OrderResponse {
	return OrderResponse{
		OrderID:      s.ID,
		CustomerID:   s.CustomerID,
		CustomerName: s.CustomerName,
		ProductID:    s.ProductID,
		ProductName:  s.ProductName,
		Quantity:     s.Quantity,
		UnitPrice:    s.UnitPrice,
		TotalAmount:  s.TotalAmount,
		OrderDateUTC: s.OrderDateUTC,
		Status:       string(s.Status),
	}
}

func orderResponse(o domain.Order) OrderResponse {
	resp := summaryResponse(o.Summary())
	resp.Version = o.Version
	return resp
}

type errBadQuery string

func (e errBadQuery) Error() string { return "invalid query parameter " + string(e) }

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errBadQuery(name)
	}
	return n, nil
}

func requestIDField(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}
