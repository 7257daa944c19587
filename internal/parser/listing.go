package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/revolico-scraper/internal/models"
)

// ListingParser extracts listing links from the homepage and listing details
// from detail pages.
type ListingParser struct {
	base          *url.URL
	phones        *PhoneParser
	linkSelectors []string
	idPattern     *regexp.Regexp
	pricePattern  *regexp.Regexp
}

func NewListingParser(baseURL string, phones *PhoneParser) (*ListingParser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL: %q", baseURL)
	}
	if phones == nil {
		phones = NewPhoneParser()
	}

	return &ListingParser{
		base:   base,
		phones: phones,
		linkSelectors: []string{
			`[data-cy="adName"] a`,
			`a[href*="/item/"]`,
		},
		idPattern:    regexp.MustCompile(`/item/[^/?#]*?-(\d+)(?:[/?#]|$)`),
		pricePattern: regexp.MustCompile(`(?i)([\d][\d.,]*)\s*(CUP|USD|EUR|MLC)`),
	}, nil
}

// ExtractListingLinks returns up to limit distinct absolute listing URLs in
// page order. A limit of zero or less returns all of them.
func (p *ListingParser) ExtractListingLinks(page string, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string

	for _, selector := range p.linkSelectors {
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if limit > 0 && len(links) >= limit {
				return false
			}
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			link, ok := p.listingURL(href)
			if !ok {
				return true
			}
			if _, dup := seen[link]; dup {
				return true
			}
			seen[link] = struct{}{}
			links = append(links, link)
			return true
		})
	}

	return links, nil
}

func (p *ListingParser) listingURL(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.Contains(href, "/item/publish") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := p.base.ResolveReference(ref)
	abs.Fragment = ""

	if !strings.HasPrefix(abs.Path, "/item/") {
		return "", false
	}
	if !sameSite(abs.Host, p.base.Host) {
		return "", false
	}
	return abs.String(), true
}

func sameSite(a, b string) bool {
	trim := func(h string) string {
		h = strings.ToLower(h)
		for _, prefix := range []string{"www.", "m."} {
			h = strings.TrimPrefix(h, prefix)
		}
		return h
	}
	return trim(a) == trim(b)
}

// ParseListing reads a detail page. A page without phone numbers is still
// returned; callers decide what an empty Phones slice means.
func (p *ListingParser) ParseListing(pageURL, page string) (*models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	now := time.Now()
	listing := &models.Listing{
		URL:        pageURL,
		RevolicoID: p.ExtractRevolicoID(pageURL),
		Title:      p.extractTitle(doc),
		HTML:       page,
		FetchedAt:  now,
	}
	listing.Description = cleanText(doc.Find(`[data-cy="adDescription"]`).First().Text())
	listing.Seller = cleanText(doc.Find(`[data-cy="userFullname"]`).First().Text())
	listing.Location = cleanText(doc.Find(`[data-cy="adLocation"]`).First().Text())
	listing.Price = p.extractPrice(doc)
	listing.Category = Categorize(pageURL, listing.Title)

	for _, number := range p.phones.ExtractFromDocument(doc) {
		listing.Phones = append(listing.Phones, models.PhoneNumber{
			Number:       number,
			ListingURL:   pageURL,
			DiscoveredAt: now,
		})
	}

	return listing, nil
}

func (p *ListingParser) ExtractRevolicoID(pageURL string) string {
	if m := p.idPattern.FindStringSubmatch(pageURL); len(m) == 2 {
		return m[1]
	}
	return ""
}

func (p *ListingParser) extractTitle(doc *goquery.Document) string {
	for _, selector := range []string{`[data-cy="adTitle"]`, "h1"} {
		if title := cleanText(doc.Find(selector).First().Text()); title != "" {
			return title
		}
	}
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return cleanText(og)
	}
	return cleanText(doc.Find("title").First().Text())
}

func (p *ListingParser) extractPrice(doc *goquery.Document) models.Price {
	text := cleanText(doc.Find(`[data-cy="adPrice"]`).First().Text())
	if text == "" {
		return models.Price{}
	}

	m := p.pricePattern.FindStringSubmatch(text)
	if len(m) != 3 {
		return models.Price{}
	}
	return models.Price{
		Amount:   parseAmount(m[1]),
		Currency: strings.ToUpper(m[2]),
	}
}

// parseAmount reads "1.500", "1,500" and "1500.50" style amounts.
func parseAmount(s string) float64 {
	s = strings.TrimRight(s, ".,")
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastComma >= 0:
		if len(s)-lastComma-1 == 3 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
