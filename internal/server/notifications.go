package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/muanapay/internal/payment/domain"
	"github.com/smallbiznis/muanapay/pkg/db/pagination"
)

type ingestNotificationRequest struct {
	Sender               string         `json:"sender"`
	Message              string         `json:"message"`
	CounterpartyPhone    string         `json:"counterparty_phone" binding:"omitempty,msisdn"`
	TransactionReference string         `json:"transaction_reference"`
	Amount               int64          `json:"amount"`
	Currency             string         `json:"currency"`
	Status               string         `json:"status"`
	Timestamp            *time.Time     `json:"timestamp"`
	Metadata             map[string]any `json:"metadata"`
}

// IngestNotification stores a payment signal from the ingestion pipeline.
// Replays of the same message answer 200 with created=false.
func (s *Server) IngestNotification(c *gin.Context) {
	var req ingestNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.paymentSvc.Ingest(c.Request.Context(), paymentdomain.IngestRequest{
		Sender:               strings.TrimSpace(req.Sender),
		Message:              strings.TrimSpace(req.Message),
		CounterpartyPhone:    strings.TrimSpace(req.CounterpartyPhone),
		TransactionReference: strings.TrimSpace(req.TransactionReference),
		Amount:               req.Amount,
		Currency:             strings.TrimSpace(req.Currency),
		Status:               strings.TrimSpace(req.Status),
		Timestamp:            req.Timestamp,
		Metadata:             req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": resp})
}

func (s *Server) ListNotifications(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListRequest{
		Status:    strings.TrimSpace(query.Status),
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetNotificationByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
