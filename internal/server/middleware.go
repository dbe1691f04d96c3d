package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/feeledger/internal/schoolctx"
)

// SchoolContext scopes the request to the school named by the X-School-ID
// header, falling back to the deployment's configured school.
func (s *Server) SchoolContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID := snowflake.ID(s.cfg.SchoolID)
		if raw := strings.TrimSpace(c.GetHeader(schoolctx.HeaderName)); raw != "" {
			parsed, ok := schoolctx.Parse(raw)
			if !ok {
				AbortWithError(c, newValidationError("school_id", "invalid_school", "invalid "+schoolctx.HeaderName+" header"))
				return
			}
			schoolID = parsed
		}
		if schoolID <= 0 {
			AbortWithError(c, newValidationError("school_id", "invalid_school", "school is required"))
			return
		}

		ctx := schoolctx.WithSchoolID(c.Request.Context(), schoolID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
