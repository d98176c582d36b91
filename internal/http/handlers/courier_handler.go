// README: Courier handlers: registration, availability, breaks, heartbeat and the manager's nearby view.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tabla/internal/modules/courier"
	"tabla/internal/modules/location"
	"tabla/internal/modules/order"
	"tabla/internal/types"
)

type CourierHandler struct {
	courier  *courier.Service
	order    *order.Service
	location *location.Service
	radiusKm float64
}

// NewCourierHandler wires the courier endpoints. radiusKm is the nearby
// search radius used when the request does not name one.
func NewCourierHandler(courierSvc *courier.Service, orderSvc *order.Service, locationSvc *location.Service, radiusKm float64) *CourierHandler {
	if radiusKm <= 0 {
		radiusKm = 3
	}
	return &CourierHandler{courier: courierSvc, order: orderSvc, location: locationSvc, radiusKm: radiusKm}
}

type registerCourierReq struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *CourierHandler) Register(c *gin.Context) {
	var req registerCourierReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid json")
		return
	}
	if req.ID != "" && !isValidID(req.ID) {
		writeBadRequest(c, "invalid id")
		return
	}
	d, err := h.courier.Register(c.Request.Context(), courier.RegisterCommand{ID: types.ID(req.ID), Name: req.Name})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, d)
}

func (h *CourierHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.courier.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

// ActiveOrder returns the order the courier is working on, 404 when idle.
func (h *CourierHandler) ActiveOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.ActiveForCourier(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type availabilityReq struct {
	Available *bool `json:"available"`
}

func (h *CourierHandler) SetAvailability(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		writeBadRequest(c, "available is required")
		return
	}
	d, err := h.courier.SetAvailability(c.Request.Context(), id, *req.Available)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type breakReq struct {
	OnBreak *bool `json:"on_break"`
}

func (h *CourierHandler) Break(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req breakReq
	if err := c.ShouldBindJSON(&req); err != nil || req.OnBreak == nil {
		writeBadRequest(c, "on_break is required")
		return
	}
	var (
		d   *courier.Courier
		err error
	)
	if *req.OnBreak {
		d, err = h.courier.StartBreak(c.Request.Context(), id)
	} else {
		d, err = h.courier.EndBreak(c.Request.Context(), id)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

// UpdateLocation records a device heartbeat; it is mirrored into the active order room.
func (h *CourierHandler) UpdateLocation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	lat, lng, ok := bindLocation(c)
	if !ok {
		return
	}
	smp, err := h.location.PublishCourierLocation(c.Request.Context(), id, lat, lng)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok", "sample": smp})
}

func (h *CourierHandler) Nearby(c *gin.Context) {
	lat, okLat, errLat := queryFloat(c, "lat")
	lng, okLng, errLng := queryFloat(c, "lng")
	if errLat != nil || errLng != nil || !okLat || !okLng {
		writeBadRequest(c, "lat and lng are required")
		return
	}
	radius, ok, err := queryFloat(c, "radius_km")
	if err != nil || (ok && radius <= 0) {
		writeBadRequest(c, "invalid radius_km")
		return
	}
	if !ok {
		radius = h.radiusKm
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		writeBadRequest(c, "invalid limit")
		return
	}
	res, err := h.courier.NearbyAvailable(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if res == nil {
		res = []courier.Nearby{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"couriers": res})
}
