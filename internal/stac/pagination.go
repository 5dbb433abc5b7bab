package stac

import (
	"net/url"
	"strconv"
)

// PaginationInfo describes one served page of a product listing.
type PaginationInfo struct {
	BaseURL       string
	CurrentPage   int
	Limit         int
	TotalCount    *int
	ReturnedCount int
	QueryParams   url.Values
}

// hasNext reports whether a page follows. Without a total, a full page is
// taken to mean more products may follow.
func (p PaginationInfo) hasNext() bool {
	if p.TotalCount == nil {
		return p.ReturnedCount >= p.Limit
	}
	return p.Limit > 0 && p.CurrentPage*p.Limit < *p.TotalCount
}

// pageURL repeats the request query with page replaced.
func (p PaginationInfo) pageURL(page int) string {
	q := make(url.Values, len(p.QueryParams)+1)
	for k, v := range p.QueryParams {
		q[k] = append([]string(nil), v...)
	}
	q.Set("page", strconv.Itoa(page))
	return p.BaseURL + "?" + q.Encode()
}

// BuildPaginationLinks returns the prev and next links of a page.
func BuildPaginationLinks(info PaginationInfo) Links {
	links := Links{}
	if info.CurrentPage > 1 {
		links.Add("prev", info.pageURL(info.CurrentPage-1), MediaTypeGeoJSON)
	}
	if info.hasNext() {
		links.Add("next", info.pageURL(info.CurrentPage+1), MediaTypeGeoJSON)
	}
	return links
}
