package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	feeconfigdomain "github.com/smallbiznis/feeledger/internal/feeconfig/domain"
)

func (s *Server) CreateFeeCategory(c *gin.Context) {
	var req feeconfigdomain.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Name = strings.TrimSpace(req.Name)

	resp, err := s.feeConfigSvc.CreateCategory(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListFeeCategories(c *gin.Context) {
	includeInactive, err := parseOptionalBool(c.Query("include_inactive"))
	if err != nil {
		AbortWithError(c, newValidationError("include_inactive", "invalid_include_inactive", "invalid include_inactive"))
		return
	}

	resp, err := s.feeConfigSvc.ListCategories(c.Request.Context(), feeconfigdomain.ListCategoriesRequest{
		IncludeInactive: includeInactive != nil && *includeInactive,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": nonNil(resp)})
}

func (s *Server) GetFeeCategory(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.feeConfigSvc.GetCategory(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateFeeCategory(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req feeconfigdomain.UpdateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.feeConfigSvc.UpdateCategory(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateFeeCategory(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.feeConfigSvc.DeactivateCategory(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateFeeStructure(c *gin.Context) {
	var req feeconfigdomain.CreateStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AcademicYear = strings.TrimSpace(req.AcademicYear)

	resp, err := s.feeConfigSvc.CreateStructure(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListFeeStructures(c *gin.Context) {
	var query struct {
		AcademicYear    string `form:"academic_year"`
		ClassID         string `form:"class_id"`
		IncludeInactive string `form:"include_inactive"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	classID, err := parseOptionalSnowflakeID(query.ClassID)
	if err != nil {
		AbortWithError(c, newValidationError("class_id", "invalid_class_id", "invalid class_id"))
		return
	}
	includeInactive, err := parseOptionalBool(query.IncludeInactive)
	if err != nil {
		AbortWithError(c, newValidationError("include_inactive", "invalid_include_inactive", "invalid include_inactive"))
		return
	}

	req := feeconfigdomain.ListStructuresRequest{
		AcademicYear:    strings.TrimSpace(query.AcademicYear),
		IncludeInactive: includeInactive != nil && *includeInactive,
	}
	if classID != nil {
		req.ClassID = *classID
	}

	resp, err := s.feeConfigSvc.ListStructures(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": nonNil(resp)})
}

func (s *Server) GetFeeStructure(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.feeConfigSvc.GetStructure(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AmendFeeStructure(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req feeconfigdomain.AmendStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.feeConfigSvc.AmendStructure(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateFeeStructure(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.feeConfigSvc.DeactivateStructure(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
