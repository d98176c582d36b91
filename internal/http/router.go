// README: HTTP router registration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tabla/internal/http/handlers"
	"tabla/internal/http/middleware"
	"tabla/internal/maps"
	"tabla/internal/modules/chat"
	"tabla/internal/modules/courier"
	"tabla/internal/modules/location"
	"tabla/internal/modules/order"
	"tabla/internal/realtime"
)

type Deps struct {
	Orders         *order.Service
	Couriers       *courier.Service
	Locations      *location.Service
	Chat           *chat.Service
	Planner        *maps.Planner
	Hub            *realtime.Hub
	NearbyRadiusKm float64
	Keepalive      time.Duration
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(), middleware.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api")

	orderHandler := handlers.NewOrderHandler(deps.Orders)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/orders/:id/events", orderHandler.Events)
	api.POST("/orders/:id/transitions", orderHandler.Transition)
	api.POST("/orders/:id/accept", orderHandler.Action(order.StatusAccepted))
	api.POST("/orders/:id/reject", orderHandler.Action(order.StatusRejected))
	api.POST("/orders/:id/pickup", orderHandler.Action(order.StatusPickedUp))
	api.POST("/orders/:id/depart", orderHandler.Action(order.StatusOnTheWay))
	api.POST("/orders/:id/deliver", orderHandler.Action(order.StatusDelivered))
	api.POST("/orders/:id/fail", orderHandler.Action(order.StatusFailed))

	locationHandler := handlers.NewLocationHandler(deps.Locations, deps.Orders, deps.Planner)
	api.PUT("/orders/:id/location", locationHandler.Update)
	api.GET("/orders/:id/location", locationHandler.Get)
	api.GET("/orders/:id/route", locationHandler.Route)

	realtimeHandler := handlers.NewRealtimeHandler(deps.Hub, deps.Orders, deps.Locations, deps.Keepalive)
	api.GET("/orders/:id/stream", realtimeHandler.Stream)
	r.GET("/ws", realtimeHandler.WS)

	courierHandler := handlers.NewCourierHandler(deps.Couriers, deps.Orders, deps.Locations, deps.NearbyRadiusKm)
	api.POST("/couriers", courierHandler.Register)
	api.GET("/couriers/nearby", courierHandler.Nearby)
	api.GET("/couriers/:id", courierHandler.Get)
	api.GET("/couriers/:id/order", courierHandler.ActiveOrder)
	api.PUT("/couriers/:id/availability", courierHandler.SetAvailability)
	api.POST("/couriers/:id/break", courierHandler.Break)
	api.PUT("/couriers/:id/location", courierHandler.UpdateLocation)

	messageHandler := handlers.NewMessageHandler(deps.Chat)
	api.POST("/messages", messageHandler.Send)
	api.GET("/messages/conversation", messageHandler.Conversation)
	api.GET("/messages/unread", messageHandler.Unread)
	api.POST("/messages/read", messageHandler.MarkRead)

	return r
}
