package payment

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"unievents-checkin/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

// UploaderModule wires the minio-backed receipt uploader. It is separate
// from Module so tests can run the service without object storage.
var UploaderModule = fx.Module("payment.uploader",
	fx.Provide(NewMinioUploader),
)

type handler struct {
	svc      *Service
	uploader Uploader
}

type routeParams struct {
	fx.In
	Engine   *gin.Engine
	Svc      *Service
	Uploader Uploader `optional:"true"`
}

func registerRoutes(p routeParams) {
	h := &handler{svc: p.Svc, uploader: p.Uploader}

	p.Engine.POST("/payment-verifications", h.submit)
	p.Engine.POST("/payment-verifications/:id/decide", h.decide)
	p.Engine.GET("/payment-verifications", h.listPending)
	p.Engine.GET("/payment-verifications/:id", h.get)
}

// submit accepts either a JSON body referencing an already-uploaded receipt
// or a multipart form with the image itself.
func (h *handler) submit(c *gin.Context) {
	contentType := c.ContentType()

	if strings.HasPrefix(contentType, "multipart/form-data") {
		h.submitMultipart(c)
		return
	}

	var req struct {
		TicketID        string `json:"ticketId" binding:"required"`
		ReceiptImageURL string `json:"receiptImageUrl" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	v, err := h.svc.SubmitReceipt(c.Request.Context(), req.TicketID, req.ReceiptImageURL)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, v)
}

func (h *handler) submitMultipart(c *gin.Context) {
	if h.uploader == nil {
		c.Error(errutil.UnprocessableEntity("receipt upload is not configured", nil))
		return
	}

	ticketID := c.PostForm("ticketId")
	if ticketID == "" {
		c.Error(errutil.BadRequest("ticketId is required", nil))
		return
	}

	file, err := c.FormFile("receipt")
	if err != nil {
		c.Error(errutil.BadRequest("receipt file is required", err))
		return
	}

	// Refuse before touching object storage so a rejected submission
	// leaves nothing behind in the bucket.
	if _, err := h.svc.CheckSubmittable(c.Request.Context(), ticketID); err != nil {
		c.Error(err)
		return
	}

	f, err := file.Open()
	if err != nil {
		c.Error(errutil.Internal("failed to read receipt file", err))
		return
	}
	defer f.Close()

	objectName := fmt.Sprintf("receipts/%s%s", ticketID, filepath.Ext(file.Filename))
	url, err := h.uploader.Upload(c.Request.Context(), objectName, file.Header.Get("Content-Type"), f, file.Size)
	if err != nil {
		c.Error(errutil.Internal("failed to store receipt", err))
		return
	}

	v, err := h.svc.SubmitReceipt(c.Request.Context(), ticketID, url)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, v)
}

func (h *handler) decide(c *gin.Context) {
	var req struct {
		Outcome        string `json:"outcome" binding:"required"`
		OrganizerNotes string `json:"organizerNotes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	v, err := h.svc.Decide(c.Request.Context(), c.Param("id"), req.Outcome, req.OrganizerNotes)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, v)
}

func (h *handler) get(c *gin.Context) {
	v, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, v)
}

func (h *handler) listPending(c *gin.Context) {
	rows, err := h.svc.ListPending(c.Request.Context(), c.Query("eventId"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}
