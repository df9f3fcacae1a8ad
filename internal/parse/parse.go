// Package parse turns raw page bytes into goquery documents and provides the
// stock link extractors and stop predicates a crawl can start from. Site
// specific extraction logic plugs in through the pipeline interfaces; this
// package covers the common cases.
package parse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webharvest/internal/pipeline"
)

// HTMLParser implements pipeline.Parser on goquery.
type HTMLParser struct{}

// NewHTMLParser returns the standard parser.
func NewHTMLParser() *HTMLParser { return &HTMLParser{} }

// Parse implements pipeline.Parser.
func (p *HTMLParser) Parse(content []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// AnchorExtractor selects anchor hrefs matching a CSS selector and resolves
// them against the page URL. With an empty selector every anchor qualifies.
type AnchorExtractor struct {
	selector string
}

// NewAnchorExtractor builds an extractor for the given CSS selector, e.g.
// "ul.pager a" or "article.product_pod h3 a".
func NewAnchorExtractor(selector string) *AnchorExtractor {
	if selector == "" {
		selector = "a"
	}
	return &AnchorExtractor{selector: selector}
}

// Links implements pipeline.LinkExtractor. Unresolvable and non-HTTP hrefs
// are dropped; duplicates within one page collapse to the first occurrence.
func (e *AnchorExtractor) Links(pageURL string, doc *goquery.Document) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find(e.selector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := pipeline.ResolveURL(pageURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links
}

// SelfExtractor marks every visited page as harvestable by returning the page
// URL itself.
type SelfExtractor struct{}

// Links implements pipeline.LinkExtractor.
func (SelfExtractor) Links(pageURL string, _ *goquery.Document) []string {
	return []string{pageURL}
}

// MetadataExtractor is the stock record extractor: one record per page with
// its title, meta description, and link count. Site specific extractors
// replace it through pipeline.RecordExtractor.
type MetadataExtractor struct{}

// Extract implements pipeline.RecordExtractor. Pages without a title are
// rejected so obviously broken captures surface in the logs.
func (MetadataExtractor) Extract(doc *goquery.Document) ([]pipeline.Record, error) {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return nil, fmt.Errorf("page has no title")
	}
	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	return []pipeline.Record{{
		"title":       title,
		"description": strings.TrimSpace(description),
		"links":       doc.Find("a[href]").Length(),
	}}, nil
}

// NeverStop is the default stop predicate: browsing runs until the queue
// drains.
func NeverStop() pipeline.StopPredicate {
	return pipeline.StopPredicateFunc(func(_ *goquery.Document) bool { return false })
}

// StopOnSelector stops browsing once a page contains a match for the given
// CSS selector.
func StopOnSelector(selector string) pipeline.StopPredicate {
	return pipeline.StopPredicateFunc(func(doc *goquery.Document) bool {
		return doc.Find(selector).Length() > 0
	})
}

// StopOnText stops browsing once a page's text contains the given substring.
func StopOnText(substr string) pipeline.StopPredicate {
	return pipeline.StopPredicateFunc(func(doc *goquery.Document) bool {
		return strings.Contains(doc.Text(), substr)
	})
}
