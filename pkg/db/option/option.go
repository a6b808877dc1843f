package option

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUnknownSortField   = errors.New("unknown_sort_field")
	ErrInvalidSortOrder   = errors.New("invalid_sort_order")
	ErrEmptySortWhitelist = errors.New("empty_sort_whitelist")
)

// QueryOption mutates a statement before it is executed.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type optionFunc func(db *gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// SortBy is a resolved, store-level ordering. Column always comes from a
// whitelist, never from caller input.
type SortBy struct {
	Column string
	Desc   bool
}

// WithQuerySortBy resolves a public sort field and direction through the
// columns table. Empty sortBy or orderBy fall back to def.
func WithQuerySortBy(sortBy, orderBy string, columns map[string]string, def SortBy) (SortBy, error) {
	if len(columns) == 0 {
		return SortBy{}, ErrEmptySortWhitelist
	}

	resolved := def
	field := strings.ToLower(strings.TrimSpace(sortBy))
	if field != "" {
		column, ok := columns[field]
		if !ok {
			return SortBy{}, ErrUnknownSortField
		}
		resolved.Column = column
	}

	switch strings.ToLower(strings.TrimSpace(orderBy)) {
	case "":
	case "asc":
		resolved.Desc = false
	case "desc":
		resolved.Desc = true
	default:
		return SortBy{}, ErrInvalidSortOrder
	}
	return resolved, nil
}

// WithSortBy orders by the resolved column with id as the tie breaker so
// that offset pages are stable.
func WithSortBy(sort SortBy) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if sort.Column == "" {
			return db
		}
		db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: sort.Column}, Desc: sort.Desc})
		if sort.Column != "id" {
			db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: sort.Desc})
		}
		return db
	})
}

func WithOffset(offset int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if offset <= 0 {
			return db
		}
		return db.Offset(offset)
	})
}

func WithLimit(limit int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// Apply runs opts in order.
func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		db = opt.Apply(db)
	}
	return db
}
