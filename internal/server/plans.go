package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/muanapay/internal/plan/domain"
)

type createPlanRequest struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	BillingCycle string `json:"billing_cycle"`
	PriceAmount  int64  `json:"price_amount"`
	Currency     string `json:"currency"`
	Active       *bool  `json:"active"`
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.planSvc.Create(c.Request.Context(), plandomain.CreateRequest{
		ID:           strings.TrimSpace(req.ID),
		Code:         strings.TrimSpace(req.Code),
		Name:         strings.TrimSpace(req.Name),
		BillingCycle: strings.TrimSpace(req.BillingCycle),
		PriceAmount:  req.PriceAmount,
		Currency:     strings.TrimSpace(req.Currency),
		Active:       req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListPlans(c *gin.Context) {
	var query struct {
		Active string `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	activeOnly := false
	if raw := strings.TrimSpace(query.Active); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
			return
		}
		activeOnly = parsed
	}

	resp, err := s.planSvc.List(c.Request.Context(), plandomain.ListRequest{ActiveOnly: activeOnly})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPlanByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.planSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
