package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/feeledger/internal/ledger/domain"
)

func (s *Server) ApplyPayment(c *gin.Context) {
	var req ledgerdomain.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ledgerSvc.ApplyPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) StudentStatement(c *gin.Context) {
	studentID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	asOf, err := parseOptionalDate(c.Query("as_of"))
	if err != nil {
		AbortWithError(c, newValidationError("as_of", "invalid_as_of", "as_of must be YYYY-MM-DD"))
		return
	}
	today := s.querySvc.Today()
	if asOf != nil {
		today = *asOf
	}

	statement, err := s.querySvc.StudentStatement(c.Request.Context(), studentID, today)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": statement})
}
