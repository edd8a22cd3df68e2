package routes

import (
	"net/http"

	"github.com/mbolis/fieldsync/model"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

type paging struct {
	Page    int
	PerPage int
	Offset  int
}

// resolvePaging reads ?page= and ?per_page=, clamping per_page to [1, 200].
func resolvePaging(r *http.Request) paging {
	perPage := queryInt(r, "per_page", defaultPerPage)
	perPage = min(max(perPage, 1), maxPerPage)
	page := max(queryInt(r, "page", 1), 1)
	return paging{Page: page, PerPage: perPage, Offset: (page - 1) * perPage}
}

func (p paging) meta(total int) model.PageMeta {
	return model.PageMeta{
		Page:       p.Page,
		PerPage:    p.PerPage,
		Total:      total,
		TotalPages: (total + p.PerPage - 1) / p.PerPage,
	}
}
