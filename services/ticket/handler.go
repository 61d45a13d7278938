package ticket

import (
	"net/http"

	"unievents-checkin/pkg/errutil"
	"unievents-checkin/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("ticket.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

type handler struct {
	svc *Service
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	h := &handler{svc: svc}

	engine.POST("/tickets", h.purchase)
	engine.GET("/tickets/:id", h.get)
	engine.POST("/tickets/:id/refund", h.refund)
	engine.POST("/events/:id/registrations", h.register)
	engine.DELETE("/events/:id/registrations", h.cancelRegistration)
}

func (h *handler) purchase(c *gin.Context) {
	var req struct {
		EventID string `json:"eventId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	userID := middleware.SessionUserID(c)
	if userID == "" {
		c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	t, err := h.svc.CreateTicket(c.Request.Context(), req.EventID, userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, t)
}

func (h *handler) get(c *gin.Context) {
	t, err := h.svc.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	resp := gin.H{
		"id":         t.ID,
		"eventId":    t.EventID,
		"userId":     t.UserID,
		"price":      t.Price,
		"status":     t.Status,
		"ticketCode": t.TicketCode,
		"createdAt":  t.CreatedAt,
	}

	if t.Status == StatusPaid {
		qr, err := h.svc.IssueTicketToken(c.Request.Context(), t.ID)
		if err != nil {
			c.Error(err)
			return
		}
		resp["qrCode"] = qr
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handler) refund(c *gin.Context) {
	t, err := h.svc.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, t)
}

func (h *handler) register(c *gin.Context) {
	userID := middleware.SessionUserID(c)
	if userID == "" {
		c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	reg, err := h.svc.Register(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, reg)
}

func (h *handler) cancelRegistration(c *gin.Context) {
	userID := middleware.SessionUserID(c)
	if userID == "" {
		c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	if err := h.svc.CancelRegistration(c.Request.Context(), c.Param("id"), userID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
