package domain

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/insightdesk/pkg/db/option"
)

const (
	maxSearchLength  = 200
	fullConfidence   = 100.0
	defaultSortField = "generated_at"
)

// FilterSpec is the caller's listing request. Confidence bounds are in
// percent; nil bounds mean the full [0,100] range.
type FilterSpec struct {
	Search        string
	Service       string
	Risk          string
	ConfidenceMin *float64
	ConfidenceMax *float64
	DateFrom      *time.Time
	DateTo        *time.Time
	Status        string
	UserID        string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// Limits bound what a FilterSpec may ask of the store.
type Limits struct {
	PageSizeHardCap   int
	MaxOffset         int
	RiskSynonymSearch bool
}

// Predicate is the store-independent form of the active filter dimensions.
// Zero-valued fields are inactive.
type Predicate struct {
	Search string
	// SearchRisk, when set, widens the risk dimension to
	// (risk_level = SearchRisk OR summary matches Search).
	SearchRisk    RiskLevel
	Service       ServiceName
	Risk          RiskLevel
	ConfidenceMin *float64
	ConfidenceMax *float64
	GeneratedFrom *time.Time
	GeneratedTo   *time.Time
	Status        Status
	UserID        string
	// Now anchors the status dimension; it must be the same instant used to
	// derive the status of returned rows.
	Now time.Time
}

type Query struct {
	Predicate  Predicate
	SortColumn string
	SortDesc   bool
	Offset     int
	Limit      int
	Page       int
	PageSize   int
}

// SortColumns maps public sort fields onto sortable store columns. Display
// names are not stored, so username sorts by owner id; status sorts by
// expiry, which orders expired rows first when ascending.
var SortColumns = map[string]string{
	"generated_at":       "generated_at",
	"expires_at":         "expires_at",
	"confidence":         "confidence",
	"risk_level":         "risk_level",
	"service":            "service",
	"access_count":       "access_count",
	"generation_time_ms": "generation_time_ms",
	"total_tokens":       "total_tokens",
	"username":           "user_id",
	"status":             "expires_at",
}

var riskSynonyms = map[string]RiskLevel{
	"high":     RiskHigh,
	"critical": RiskHigh,
	"severe":   RiskHigh,
	"risky":    RiskHigh,
	"medium":   RiskMedium,
	"moderate": RiskMedium,
	"low":      RiskLow,
	"minimal":  RiskLow,
	"safe":     RiskLow,
}

// Translate validates spec and lowers it into a store query anchored at now.
// Invalid input fails with a *FilterError; nothing unvalidated reaches the
// store.
func Translate(spec FilterSpec, now time.Time, limits Limits) (Query, error) {
	var p Predicate
	p.Now = now

	search := strings.ToLower(strings.TrimSpace(spec.Search))
	if utf8.RuneCountInString(search) > maxSearchLength {
		return Query{}, NewFilterError("search", "too long")
	}
	p.Search = search

	if raw := strings.TrimSpace(spec.Service); raw != "" && !strings.EqualFold(raw, "all") {
		name, ok := ParseServiceName(raw)
		if !ok {
			return Query{}, NewFilterError("service", "unknown service")
		}
		p.Service = name
	}

	if raw := strings.TrimSpace(spec.Risk); raw != "" && !strings.EqualFold(raw, "all") {
		level, ok := ParseRiskLevel(raw)
		if !ok {
			return Query{}, NewFilterError("risk_level", "unknown risk level")
		}
		p.Risk = level
	}

	if limits.RiskSynonymSearch && search != "" {
		if level, ok := matchRiskSynonym(search); ok {
			if p.Risk == "" {
				p.SearchRisk = level
			} else {
				p.SearchRisk = p.Risk
				p.Risk = ""
			}
		}
	}

	if err := translateConfidence(spec, &p); err != nil {
		return Query{}, err
	}

	if spec.DateFrom != nil && spec.DateTo != nil && spec.DateFrom.After(*spec.DateTo) {
		return Query{}, NewFilterError("date_range", "from is after to")
	}
	if spec.DateFrom != nil {
		from := spec.DateFrom.UTC()
		p.GeneratedFrom = &from
	}
	if spec.DateTo != nil {
		to := spec.DateTo.UTC()
		p.GeneratedTo = &to
	}

	if raw := strings.ToLower(strings.TrimSpace(spec.Status)); raw != "" && raw != "all" {
		status, ok := ParseStatus(raw)
		if !ok {
			return Query{}, NewFilterError("status", "unknown status")
		}
		p.Status = status
	}

	p.UserID = strings.TrimSpace(spec.UserID)

	sort, err := option.WithQuerySortBy(spec.SortBy, spec.SortOrder, SortColumns, option.SortBy{
		Column: SortColumns[defaultSortField],
		Desc:   true,
	})
	if err != nil {
		if errors.Is(err, option.ErrInvalidSortOrder) {
			return Query{}, NewFilterError("sort_order", "must be asc or desc")
		}
		return Query{}, NewFilterError("sort_by", "unsupported sort field")
	}

	if spec.Page < 1 {
		return Query{}, NewFilterError("page", "must be at least 1")
	}
	if spec.PageSize < 0 {
		return Query{}, NewFilterError("page_size", "cannot be negative")
	}
	pageSize := spec.PageSize
	if limits.PageSizeHardCap > 0 && pageSize > limits.PageSizeHardCap {
		pageSize = limits.PageSizeHardCap
	}

	offset := 0
	if pageSize > 0 {
		// Guard the multiplication before clamping.
		if spec.Page-1 > maxInt/pageSize {
			offset = maxInt
		} else {
			offset = (spec.Page - 1) * pageSize
		}
	}
	// Rows served must belong to Page, so offsets past the window are rejected.
	if limits.MaxOffset > 0 && offset > limits.MaxOffset {
		return Query{}, NewFilterError("page", "beyond max offset")
	}

	return Query{
		Predicate:  p,
		SortColumn: sort.Column,
		SortDesc:   sort.Desc,
		Offset:     offset,
		Limit:      pageSize,
		Page:       spec.Page,
		PageSize:   pageSize,
	}, nil
}

const maxInt = int(^uint(0) >> 1)

func translateConfidence(spec FilterSpec, p *Predicate) error {
	lo, hi := 0.0, fullConfidence
	if spec.ConfidenceMin != nil {
		lo = *spec.ConfidenceMin
	}
	if spec.ConfidenceMax != nil {
		hi = *spec.ConfidenceMax
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || lo < 0 || hi > fullConfidence {
		return NewFilterError("confidence", "bounds must be within [0,100]")
	}
	if lo > hi {
		return NewFilterError("confidence", "min is greater than max")
	}
	if lo > 0 {
		v := lo / fullConfidence
		p.ConfidenceMin = &v
	}
	if hi < fullConfidence {
		v := hi / fullConfidence
		p.ConfidenceMax = &v
	}
	return nil
}

func matchRiskSynonym(search string) (RiskLevel, bool) {
	for _, word := range strings.FieldsFunc(search, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if level, ok := riskSynonyms[word]; ok {
			return level, true
		}
	}
	return "", false
}

// Matches evaluates the predicate against a record in memory. It agrees
// with the SQL rendering of the same predicate.
func (p Predicate) Matches(i Insight) bool {
	searchHit := p.Search == "" || strings.Contains(strings.ToLower(i.Summary), p.Search)
	if p.SearchRisk != "" {
		if !(i.RiskLevel == p.SearchRisk || searchHit) {
			return false
		}
	} else if !searchHit {
		return false
	}
	if p.Service != "" && i.Service != p.Service {
		return false
	}
	if p.Risk != "" && i.RiskLevel != p.Risk {
		return false
	}
	if p.ConfidenceMin != nil && i.Confidence < *p.ConfidenceMin {
		return false
	}
	if p.ConfidenceMax != nil && i.Confidence > *p.ConfidenceMax {
		return false
	}
	if p.GeneratedFrom != nil && i.GeneratedAt.Before(*p.GeneratedFrom) {
		return false
	}
	if p.GeneratedTo != nil && !i.GeneratedAt.Before(*p.GeneratedTo) {
		return false
	}
	if p.Status != "" && i.Status(p.Now) != p.Status {
		return false
	}
	if p.UserID != "" && i.UserID != p.UserID {
		return false
	}
	return true
}
