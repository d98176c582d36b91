// README: Order handlers for create/get/list, status transitions and the audit trail.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tabla/internal/modules/order"
	"tabla/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createOrderReq struct {
	CustomerID      string       `json:"customer_id"`
	DeliveryAddress string       `json:"delivery_address"`
	DropoffLat      *float64     `json:"dropoff_lat"`
	DropoffLng      *float64     `json:"dropoff_lng"`
	Items           []order.Item `json:"items"`
	DeliveryFee     int64        `json:"delivery_fee"`
	Currency        string       `json:"currency"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid json")
		return
	}
	cmd := order.CreateCommand{
		CustomerID:      types.ID(req.CustomerID),
		DeliveryAddress: req.DeliveryAddress,
		Items:           req.Items,
		DeliveryFee:     req.DeliveryFee,
		Currency:        req.Currency,
	}
	if req.DropoffLat != nil && req.DropoffLng != nil {
		cmd.Dropoff = &types.Point{Lat: *req.DropoffLat, Lng: *req.DropoffLng}
	}
	o, err := h.order.Create(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		writeBadRequest(c, "invalid limit")
		return
	}
	orders, err := h.order.List(c.Request.Context(), order.ListFilter{
		Status:    order.Status(c.Query("status")),
		CourierID: types.ID(c.Query("courier_id")),
		Limit:     limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if orders == nil {
		orders = []*order.Order{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"orders": orders})
}

func (h *OrderHandler) Events(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	evts, err := h.order.Events(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"events": evts})
}

type transitionReq struct {
	TargetStatus string `json:"targetStatus"`
	ActorID      string `json:"actorId"`
	ActorType    string `json:"actorType"`
	Reason       string `json:"reason"`
}

type transitionResp struct {
	Status string       `json:"status"`
	Order  *order.Order `json:"order"`
}

// Transition applies {targetStatus, actorId, reason} to the order.
func (h *OrderHandler) Transition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetStatus == "" {
		writeBadRequest(c, "targetStatus is required")
		return
	}
	if req.ActorID != "" && !isValidID(req.ActorID) {
		writeBadRequest(c, "invalid actorId")
		return
	}
	h.apply(c, order.TransitionCommand{
		OrderID:   id,
		Target:    order.Status(req.TargetStatus),
		ActorID:   types.ID(req.ActorID),
		ActorType: req.ActorType,
		Reason:    req.Reason,
	})
}

type reasonReq struct {
	Reason string `json:"reason"`
}

// Action returns a handler for one fixed target status, driven by the courier
// app: POST /api/orders/:id/accept?courier_id=...
func (h *OrderHandler) Action(target order.Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		courierID := c.Query("courier_id")
		if courierID != "" && !isValidID(courierID) {
			writeBadRequest(c, "invalid courier_id")
			return
		}
		if target == order.StatusAccepted && courierID == "" {
			writeBadRequest(c, "missing courier_id")
			return
		}
		var req reasonReq
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				writeBadRequest(c, "invalid json")
				return
			}
		}
		h.apply(c, order.TransitionCommand{
			OrderID:   id,
			Target:    target,
			ActorID:   types.ID(courierID),
			ActorType: c.Query("actor_type"),
			Reason:    req.Reason,
		})
	}
}

func (h *OrderHandler) apply(c *gin.Context, cmd order.TransitionCommand) {
	o, err := h.order.ApplyTransition(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, transitionResp{Status: "ok", Order: o})
}
