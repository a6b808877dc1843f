package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/insightdesk/internal/config"
	insightdomain "github.com/smallbiznis/insightdesk/internal/insight/domain"
)

type listInsightsQuery struct {
	Search        string `form:"search"`
	Service       string `form:"service"`
	RiskLevel     string `form:"risk_level"`
	ConfidenceMin string `form:"confidence_min"`
	ConfidenceMax string `form:"confidence_max"`
	DateFrom      string `form:"date_from"`
	DateTo        string `form:"date_to"`
	Status        string `form:"status"`
	UserID        string `form:"user_id"`
	Page          string `form:"page"`
	PageSize      string `form:"page_size"`
	SortBy        string `form:"sort_by"`
	SortOrder     string `form:"sort_order"`
}

func (s *Server) ListInsights(c *gin.Context) {
	var query listInsightsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	spec, err := s.filterSpecFromQuery(query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.insightSvc.QueryInsights(c.Request.Context(), spec)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) filterSpecFromQuery(query listInsightsQuery) (insightdomain.FilterSpec, error) {
	loc := s.cfg.Insight.LoadLocation()

	confidenceMin, err := parseOptionalFloat(query.ConfidenceMin)
	if err != nil {
		return insightdomain.FilterSpec{}, newValidationError("confidence_min", "invalid_confidence_min", "invalid confidence_min")
	}
	confidenceMax, err := parseOptionalFloat(query.ConfidenceMax)
	if err != nil {
		return insightdomain.FilterSpec{}, newValidationError("confidence_max", "invalid_confidence_max", "invalid confidence_max")
	}
	dateFrom, err := parseOptionalTime(query.DateFrom, false, loc)
	if err != nil {
		return insightdomain.FilterSpec{}, newValidationError("date_from", "invalid_date_from", "invalid date_from")
	}
	dateTo, err := parseOptionalTime(query.DateTo, true, loc)
	if err != nil {
		return insightdomain.FilterSpec{}, newValidationError("date_to", "invalid_date_to", "invalid date_to")
	}
	page, err := parseIntDefault(query.Page, 1)
	if err != nil {
		return insightdomain.FilterSpec{}, newValidationError("page", "invalid_page", "invalid page")
	}
	pageSize, err := parseIntDefault(query.PageSize, s.defaultPageSize())
	if err != nil {
		return insightdomain.FilterSpec{}, newValidationError("page_size", "invalid_page_size", "invalid page_size")
	}

	return insightdomain.FilterSpec{
		Search:        query.Search,
		Service:       strings.TrimSpace(query.Service),
		Risk:          strings.TrimSpace(query.RiskLevel),
		ConfidenceMin: confidenceMin,
		ConfidenceMax: confidenceMax,
		DateFrom:      dateFrom,
		DateTo:        dateTo,
		Status:        strings.TrimSpace(query.Status),
		UserID:        strings.TrimSpace(query.UserID),
		Page:          page,
		PageSize:      pageSize,
		SortBy:        strings.TrimSpace(query.SortBy),
		SortOrder:     strings.TrimSpace(query.SortOrder),
	}, nil
}

func (s *Server) defaultPageSize() int {
	if s.tuning == nil {
		return config.DefaultInsightTuning().DefaultPageSize
	}
	return s.tuning.Get().DefaultPageSize
}

func (s *Server) GetInsight(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.insightSvc.GetDetail(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateInsight(c *gin.Context) {
	var req insightdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.Service = strings.TrimSpace(req.Service)

	resp, err := s.insightSvc.CreateInsight(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DeleteInsight(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.insightSvc.DeleteInsight(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "deleted": true}})
}

func (s *Server) RegenerateInsight(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req insightdomain.RegenerateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	req.ID = id

	resp, err := s.insightSvc.RegenerateInsight(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetInsightStats(c *gin.Context) {
	resp, err := s.insightSvc.GetStats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RefreshInsightStats(c *gin.Context) {
	if err := s.insightSvc.RefreshStats(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"accepted": true}})
}
