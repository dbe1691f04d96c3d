package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	demandbilldomain "github.com/smallbiznis/feeledger/internal/demandbill/domain"
)

// Demand-bill responses are bare arrays of DemandBillPreviewItem so the
// document shape matches what bill renderers consume.

func (s *Server) PreviewDemandBills(c *gin.Context) {
	var req demandbilldomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, err := s.billSvc.Preview(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) GenerateDemandBills(c *gin.Context) {
	var req demandbilldomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items, err := s.billSvc.Generate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) StudentBillHistory(c *gin.Context) {
	studentID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.querySvc.StudentHistory(c.Request.Context(), studentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) ClassBillHistory(c *gin.Context) {
	classID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.querySvc.ClassHistory(c.Request.Context(), classID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) ClassDuesSummary(c *gin.Context) {
	classID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.querySvc.ClassDuesSummary(c.Request.Context(), classID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) ClassDueReminders(c *gin.Context) {
	classID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reminders, err := s.querySvc.DueReminders(c.Request.Context(), classID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, nonNil(reminders))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
