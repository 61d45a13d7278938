package checkin

import (
	"encoding/json"
	"net/http"

	"unievents-checkin/pkg/db/pagination"
	"unievents-checkin/pkg/errutil"
	"unievents-checkin/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("checkin.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

type handler struct {
	svc *Service
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	h := &handler{svc: svc}

	engine.POST("/checkin/validate", h.validate)
	engine.GET("/events/:id/checkin-stats", h.stats)
	engine.GET("/events/:id/checkins", h.list)
}

func (h *handler) validate(c *gin.Context) {
	var req struct {
		// The scanner client decodes the QR image and posts the JSON it
		// found; the codec re-verifies it server-side.
		DecodedToken json.RawMessage `json:"decodedToken" binding:"required"`
		ScanMode     string          `json:"scanMode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	raw := string(req.DecodedToken)
	if len(raw) > 1 && raw[0] == '"' {
		// Token may arrive as a JSON string (base64 form) or object.
		var s string
		if err := json.Unmarshal(req.DecodedToken, &s); err == nil {
			raw = s
		}
	}

	result, err := h.svc.Validate(c.Request.Context(), ValidateInput{
		RawToken:      raw,
		ScanMode:      req.ScanMode,
		SessionUserID: middleware.SessionUserID(c),
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *handler) stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *handler) list(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.Error(errutil.BadRequest("invalid pagination parameters", err))
		return
	}

	rows, info, err := h.svc.List(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      rows,
		"page_info": info,
	})
}
