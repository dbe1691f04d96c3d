package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption decorates a repository query.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a single column comparison. Field names are validated
// against a simple identifier pattern because they are interpolated.
func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if !isIdentifier(cond.Field) {
			_ = db.AddError(fmt.Errorf("invalid query field %q", cond.Field))
			return db
		}
		op := cond.Operator
		if op == "" {
			op = EQ
		}
		if op == IN {
			return db.Where(fmt.Sprintf("%s IN ?", cond.Field), cond.Value)
		}
		return db.Where(fmt.Sprintf("%s %s ?", cond.Field, op), cond.Value)
	})
}

type QuerySortBy struct {
	SortBy string
	Desc   bool
	Allow  map[string]bool
}

// WithSortBy orders by SortBy when allowed, falling back to the first allowed
// column and then id for a stable order.
func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(sort.SortBy)
		if column == "" || !sort.Allow[column] {
			column = ""
			for allowed, ok := range sort.Allow {
				if ok && (column == "" || allowed < column) {
					column = allowed
				}
			}
		}
		direction := "ASC"
		if sort.Desc {
			direction = "DESC"
		}
		if column != "" && isIdentifier(column) {
			db = db.Order(column + " " + direction)
		}
		return db.Order("id " + direction)
	})
}

func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
