package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tcgscout/tcgscout/api/schemas"
	"github.com/tcgscout/tcgscout/internal/config"
)

// extraction is the parsed content of a results page.
type extraction struct {
	listings []schemas.Listing
	found    int
	skipped  []schemas.ItemError
}

// extractListings parses the first max result items out of a page snapshot.
// An item missing any field is recorded in skipped and does not affect the others.
func extractListings(html string, sel config.SelectorConfig, baseURL string, max int) (extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return extraction{}, fmt.Errorf("failed to parse results page: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return extraction{}, fmt.Errorf("invalid base url: %w", err)
	}

	items := doc.Find(sel.ResultItem)
	out := extraction{
		listings: make([]schemas.Listing, 0, min(items.Length(), max)),
		found:    items.Length(),
	}

	items.EachWithBreak(func(i int, item *goquery.Selection) bool {
		if i >= max {
			return false
		}
		listing, itemErr := extractListing(i, item, sel, base)
		if itemErr != nil {
			out.skipped = append(out.skipped, *itemErr)
			return true
		}
		out.listings = append(out.listings, listing)
		return true
	})

	return out, nil
}

func extractListing(index int, item *goquery.Selection, sel config.SelectorConfig, base *url.URL) (schemas.Listing, *schemas.ItemError) {
	name, itemErr := fieldText(index, item, sel.ItemName, "name")
	if itemErr != nil {
		return schemas.Listing{}, itemErr
	}
	price, itemErr := fieldText(index, item, sel.ItemPrice, "price")
	if itemErr != nil {
		return schemas.Listing{}, itemErr
	}

	img := item.Find(sel.ItemImage).First()
	if img.Length() == 0 {
		return schemas.Listing{}, &schemas.ItemError{Index: index, Field: "image_url", Reason: "element not found"}
	}
	// Lazy loaded images keep the real URL in data-src until scrolled into view.
	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" || strings.HasPrefix(src, "data:") {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" {
		return schemas.Listing{}, &schemas.ItemError{Index: index, Field: "image_url", Reason: "no src attribute"}
	}
	ref, err := url.Parse(src)
	if err != nil {
		return schemas.Listing{}, &schemas.ItemError{Index: index, Field: "image_url", Reason: err.Error()}
	}

	return schemas.Listing{
		Name:     name,
		Price:    price,
		ImageURL: base.ResolveReference(ref).String(),
	}, nil
}

func fieldText(index int, item *goquery.Selection, selector, field string) (string, *schemas.ItemError) {
	node := item.Find(selector).First()
	if node.Length() == 0 {
		return "", &schemas.ItemError{Index: index, Field: field, Reason: "element not found"}
	}
	text := strings.Join(strings.Fields(node.Text()), " ")
	if text == "" {
		return "", &schemas.ItemError{Index: index, Field: field, Reason: "empty text"}
	}
	return text, nil
}
