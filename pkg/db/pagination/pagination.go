package pagination

// Pagination is the 1-based offset window accepted from callers.
type Pagination struct {
	Page     int `form:"page,default=1"`
	PageSize int `form:"page_size,default=10"`
}

// PageInfo describes where a page sits in the full match set.
type PageInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// Offset returns the row offset of a 1-based page.
func Offset(page, pageSize int) int {
	if page < 1 || pageSize <= 0 {
		return 0
	}
	return (page - 1) * pageSize
}

// BuildPageInfo derives page counts from the total match count. A page past
// the end is reported as-is with HasMore false rather than rejected.
func BuildPageInfo(page, pageSize int, total int64) PageInfo {
	info := PageInfo{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}
	if pageSize <= 0 || total <= 0 {
		return info
	}
	info.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	info.HasMore = page < info.TotalPages
	return info
}
