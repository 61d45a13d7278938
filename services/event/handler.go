package event

import (
	"net/http"

	"unievents-checkin/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("event.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

type handler struct {
	svc *Service
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	h := &handler{svc: svc}

	engine.POST("/events", h.create)
	engine.GET("/events", h.list)
	engine.GET("/events/:id", h.get)
	engine.GET("/events/:id/checkin-qr", h.checkinQR)
}

func (h *handler) create(c *gin.Context) {
	var in CreateEventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ev, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, ev)
}

func (h *handler) list(c *gin.Context) {
	organizerID := c.Query("organizerId")
	if organizerID == "" {
		c.Error(errutil.BadRequest("organizerId is required", nil))
		return
	}

	rows, err := h.svc.ListByOrganizer(c.Request.Context(), organizerID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *handler) get(c *gin.Context) {
	ev, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, ev)
}

func (h *handler) checkinQR(c *gin.Context) {
	issued, err := h.svc.IssueEventToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, issued)
}
