package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/storefront-orders/internal/auth"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
)

const maxJSONBody = 1 << 20

type CreateOrderReq struct {
	OrderItems      []orders.Item          `json:"orderItems"`
	ShippingAddress orders.ShippingAddress `json:"shippingAddress"`
	TotalPrice      *decimal.Decimal       `json:"totalPrice"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

type OrdersHandler struct {
	Orders *orders.Coordinator
	Log    *slog.Logger
}

// Register mounts the order routes. authn must run before every route.
func (h *OrdersHandler) Register(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(authn)
		r.Post("/", h.createOrder)
		r.Get("/my-orders", h.myOrders)
		r.With(RequireAdmin).Get("/", h.allOrders)
		r.Get("/{id}", h.getOrder)
		r.Put("/{id}/status", h.updateStatus)
	})
}

// decodeBody reads a capped body, checks it against schema and decodes it into v.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return fmt.Errorf("%w: request body: %v", orders.ErrValidation, err)
	}
	if err := validateBody(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid json", orders.ErrValidation)
	}
	return nil
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	var req CreateOrderReq
	if err := decodeBody(w, r, createOrderSchema, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	o, err := h.Orders.CreateOrder(r.Context(), actor, orders.CreateOrderInput{
		Items:           req.OrderItems,
		ShippingAddress: req.ShippingAddress,
		TotalPrice:      req.TotalPrice,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, o)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	list, err := h.Orders.ListMine(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (h *OrdersHandler) allOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	list, err := h.Orders.ListAll(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	o, err := h.Orders.GetOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, o)
}

// updateStatus is the client-confirmation path after the card widget succeeds.
func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())

	var req UpdateStatusReq
	if err := decodeBody(w, r, statusUpdateSchema, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	o, err := h.Orders.ConfirmPaid(r.Context(), actor, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, o)
}
