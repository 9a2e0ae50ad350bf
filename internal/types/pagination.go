package types

// PageInfo contains pagination metadata for list responses. NextCursor is the
// assembled_at of the last row on the page, formatted RFC3339Nano, and feeds
// the before query parameter of the next request.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	TotalItems *int   `json:"total_items,omitempty"`
}

// ResponseMeta contains non-blocking metadata returned with API responses.
// Warnings surface degradations (stale weather, skipped analysis) without
// failing the request.
type ResponseMeta struct {
	Warnings   []string  `json:"warnings,omitempty"`
	Pagination *PageInfo `json:"pagination,omitempty"`
}
