package httpapi

import (
	"math"
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 50
	defaultPage    = 1
	maxPerPage     = 500
)

// pageParams parses page/per_page query parameters, applying the defaults
// and bound mandated by §6 (`per_page` default 50, page default 1).
func pageParams(r *http.Request) (page, perPage int) {
	page = intQuery(r, "page", defaultPage)
	if page < 1 {
		page = defaultPage
	}
	perPage = intQuery(r, "per_page", defaultPerPage)
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// envelope is the pagination wrapper mandated by §6:
// {items, total, page, per_page, total_pages}.
type envelope struct {
	Items      any   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

func newEnvelope(items any, total int64, page, perPage int) envelope {
	totalPages := 0
	if perPage > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(perPage)))
	}
	return envelope{
		Items:      items,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}
}

func offsetFor(page, perPage int) int {
	return (page - 1) * perPage
}
