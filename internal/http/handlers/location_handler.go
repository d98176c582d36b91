// README: Order location handlers (broadcast channel) and route/ETA.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tabla/internal/maps"
	"tabla/internal/modules/location"
	"tabla/internal/modules/order"
	"tabla/internal/types"
)

type LocationHandler struct {
	location *location.Service
	order    *order.Service
	planner  *maps.Planner
}

func NewLocationHandler(locationSvc *location.Service, orderSvc *order.Service, planner *maps.Planner) *LocationHandler {
	return &LocationHandler{location: locationSvc, order: orderSvc, planner: planner}
}

// Update publishes a sample for the order. A transport failure after the
// sample is stored is reported as 502 with the sample still applied.
func (h *LocationHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	lat, lng, ok := bindLocation(c)
	if !ok {
		return
	}
	if _, err := h.order.Get(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	smp, err := h.location.PublishOrderLocation(c.Request.Context(), id, lat, lng)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok", "sample": smp})
}

func (h *LocationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	v, err := h.location.OrderLocation(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

// Route plans from the order's current location (or from_lat/from_lng) to its
// dropoff (or to_lat/to_lng).
func (h *LocationHandler) Route(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	from, err := pointFromQuery(c, "from_lat", "from_lng", o.CurrentLocation)
	if err != nil {
		writeBadRequest(c, "origin unknown: pass from_lat and from_lng")
		return
	}
	to, err := pointFromQuery(c, "to_lat", "to_lng", o.Dropoff)
	if err != nil {
		writeBadRequest(c, "destination unknown: pass to_lat and to_lng")
		return
	}
	route := h.planner.Plan(c.Request.Context(), id.String(), from, to)
	writeJSON(c, http.StatusOK, map[string]any{
		"order_id":    o.ID,
		"route":       route,
		"eta_seconds": int64(route.Duration.Seconds()),
	})
}

var errNoPoint = errors.New("no point")

func pointFromQuery(c *gin.Context, latKey, lngKey string, fallback *types.Point) (types.Point, error) {
	lat, okLat, errLat := queryFloat(c, latKey)
	lng, okLng, errLng := queryFloat(c, lngKey)
	if errLat != nil || errLng != nil {
		return types.Point{}, errBadInput
	}
	if okLat && okLng {
		p := types.Point{Lat: lat, Lng: lng}
		if !p.Valid() {
			return types.Point{}, errBadInput
		}
		return p, nil
	}
	if fallback == nil {
		return types.Point{}, errNoPoint
	}
	return *fallback, nil
}
