package models

// Pagination contains pagination metadata returned in list responses.
// Page-numbered lists fill Page/PageSize; offset-based lists echo the
// caller's Skip/Limit instead.
type Pagination struct {
	Page       int `json:"page,omitempty"`
	PageSize   int `json:"page_size,omitempty"`
	Skip       int `json:"skip,omitempty"`
	Limit      int `json:"limit,omitempty"`
	TotalCount int `json:"total_count"`
}
