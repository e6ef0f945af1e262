package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	plantstatedomain "github.com/smallbiznis/plantwatch/internal/plantstate/domain"
	"github.com/smallbiznis/plantwatch/pkg/db/pagination"
)

func (s *Server) GetPlantState(c *gin.Context) {
	plantID, err := parsePlantID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	state, err := s.stateSvc.GetState(c.Request.Context(), plantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

func (s *Server) ListPlantTicker(c *gin.Context) {
	plantID, err := parsePlantID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a number"))
		return
	}

	resp, err := s.stateSvc.ListTicker(c.Request.Context(), plantstatedomain.ListTickerRequest{
		PlantID:    plantID,
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Events,
		"page_info": resp.PageInfo,
	})
}
