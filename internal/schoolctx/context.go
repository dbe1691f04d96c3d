package schoolctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// HeaderName carries the school id on HTTP requests.
const HeaderName = "X-School-ID"

type schoolKey struct{}

// WithSchoolID stores the school ID in the context.
func WithSchoolID(ctx context.Context, schoolID snowflake.ID) context.Context {
	return context.WithValue(ctx, schoolKey{}, schoolID)
}

// SchoolIDFromContext returns the school ID from context, if set.
func SchoolIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(schoolKey{}).(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	}
	return 0, false
}

// Parse reads a school id from its decimal string form.
func Parse(raw string) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}
