// Package stac holds the STAC API documents served for products: go-stac
// items plus the collection, landing and conformance envelopes go-stac
// leaves to the API layer.
package stac

import (
	gostac "github.com/planetlabs/go-stac"
)

type (
	Item  = gostac.Item
	Asset = gostac.Asset
	Link  = gostac.Link
)

// Media types of links and assets.
const (
	MediaTypeJSON    = "application/json"
	MediaTypeGeoJSON = "application/geo+json"
	MediaTypeFGB     = "application/flatgeobuf"
)

// Conformance classes the product API implements.
const (
	ConformanceCore           = "https://api.stacspec.org/v1.0.0/core"
	ConformanceOGCFeatCore    = "http://www.opengis.net/spec/ogcapi-features-1/1.0/conf/core"
	ConformanceOGCFeatGeoJSON = "http://www.opengis.net/spec/ogcapi-features-1/1.0/conf/geojson"
)

// DefaultConformance lists the conformance classes in a fresh slice.
func DefaultConformance() []string {
	return []string{ConformanceCore, ConformanceOGCFeatCore, ConformanceOGCFeatGeoJSON}
}

// Links is a list of document links that always encodes as an array.
type Links []*Link

// Add appends a link.
func (l *Links) Add(rel, href, mediaType string) {
	*l = append(*l, &Link{Rel: rel, Href: href, Type: mediaType})
}

// ItemCollection is a page of product items.
type ItemCollection struct {
	Type           string   `json:"type"`
	Features       []*Item  `json:"features"`
	Links          Links    `json:"links"`
	NumberMatched  *int     `json:"numberMatched,omitempty"`
	NumberReturned int      `json:"numberReturned"`
	Context        *Context `json:"context,omitempty"`
}

// Context is the STAC context extension block.
type Context struct {
	Returned int  `json:"returned"`
	Limit    int  `json:"limit,omitempty"`
	Matched  *int `json:"matched,omitempty"`
}

func NewItemCollection(items []*Item) *ItemCollection {
	if items == nil {
		items = []*Item{}
	}
	return &ItemCollection{
		Type:           "FeatureCollection",
		Features:       items,
		Links:          Links{},
		NumberReturned: len(items),
	}
}

func (ic *ItemCollection) AddLink(rel, href, mediaType string) { ic.Links.Add(rel, href, mediaType) }

// SetContext records paging counts; matched is nil when the total is unknown.
func (ic *ItemCollection) SetContext(returned, limit int, matched *int) {
	ic.Context = &Context{Returned: returned, Limit: limit, Matched: matched}
	ic.NumberMatched = matched
}

// NewItem returns an item with empty properties, assets and links ready to fill.
func NewItem(id, collection, version string) *Item {
	return &Item{
		Version:    version,
		Id:         id,
		Collection: collection,
		Properties: map[string]any{},
		Assets:     map[string]*Asset{},
		Links:      []*Link{},
	}
}

type Conformance struct {
	ConformsTo []string `json:"conformsTo"`
}

// LandingPage is the root catalog document.
type LandingPage struct {
	Type        string   `json:"type"`
	Id          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description"`
	StacVersion string   `json:"stac_version"`
	ConformsTo  []string `json:"conformsTo,omitempty"`
	Links       Links    `json:"links"`
}

func NewLandingPage(id, title, description, version string, conformsTo []string) *LandingPage {
	return &LandingPage{
		Type:        "Catalog",
		Id:          id,
		Title:       title,
		Description: description,
		StacVersion: version,
		ConformsTo:  conformsTo,
		Links:       Links{},
	}
}

func (lp *LandingPage) AddLink(rel, href, mediaType string) { lp.Links.Add(rel, href, mediaType) }
