package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var ErrInvalidPhone = errors.New("invalid cuban phone number")

const countryCode = "53"

type phonePattern struct {
	name string
	re   *regexp.Regexp
	// group is the submatch holding the number; 0 means the whole match.
	group int
}

// PhoneParser extracts Cuban phone numbers and normalizes them to +53XXXXXXXX.
// Patterns are tried in order and a substring claimed by an earlier pattern is
// never matched again by a later one.
type PhoneParser struct {
	patterns []phonePattern
}

func NewPhoneParser() *PhoneParser {
	return &PhoneParser{
		patterns: []phonePattern{
			{name: "whatsapp_link", re: regexp.MustCompile(`(?i)(?:wa\.me/|whatsapp\.com/send/?\?phone=)(\+?\d{8,12})`), group: 1},
			{name: "tel_link", re: regexp.MustCompile(`(?i)\btel:(\+?\d{8,12})`), group: 1},
			{name: "international", re: regexp.MustCompile(`\+53[\s\-]*[5-9]\d{3}[\s\-]?\d{4}`)},
			{name: "parenthesized", re: regexp.MustCompile(`\(\+?53\)\s*[5-9]\d{3}[\s\-]?\d{4}`)},
			{name: "country_code", re: regexp.MustCompile(`53[\s\-]?[5-9]\d{3}[\s\-]?\d{4}`)},
			{name: "local_grouped", re: regexp.MustCompile(`[5-9]\d{3}[\s\-.]\d{4}`)},
			{name: "local", re: regexp.MustCompile(`[5-9]\d{7}`)},
		},
	}
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// ExtractFromText returns the distinct normalized numbers found in text, in
// order of first appearance.
func (p *PhoneParser) ExtractFromText(text string) []string {
	var (
		claimed []span
		seen    = make(map[string]struct{})
		numbers []string
	)

	for _, pattern := range p.patterns {
		for _, loc := range pattern.re.FindAllStringSubmatchIndex(text, -1) {
			whole := span{loc[0], loc[1]}
			if overlapsAny(whole, claimed) {
				continue
			}
			claimed = append(claimed, whole)

			candidate := span{loc[2*pattern.group], loc[2*pattern.group+1]}
			if !isolated(text, candidate) {
				continue
			}

			number, err := Normalize(text[candidate.start:candidate.end])
			if err != nil {
				continue
			}
			if _, ok := seen[number]; ok {
				continue
			}
			seen[number] = struct{}{}
			numbers = append(numbers, number)
		}
	}

	return orderByPosition(text, numbers)
}

// ExtractFromHTML looks at tel/WhatsApp links, data-phone attributes and the
// visible page text.
func (p *PhoneParser) ExtractFromHTML(page string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return p.ExtractFromDocument(doc), nil
}

func (p *PhoneParser) ExtractFromDocument(doc *goquery.Document) []string {
	var (
		seen    = make(map[string]struct{})
		numbers []string
	)
	add := func(found ...string) {
		for _, n := range found {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			numbers = append(numbers, n)
		}
	}

	doc.Find(`a[href^="tel:"], a[href*="wa.me/"], a[href*="whatsapp.com/send"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(p.ExtractFromText(href)...)
	})

	doc.Find("[data-phone]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("data-phone")
		if n, err := Normalize(raw); err == nil {
			add(n)
		}
	})

	add(p.ExtractFromText(visibleText(doc.Selection))...)

	return numbers
}

// Normalize converts a raw candidate to +53XXXXXXXX. Canonical input is
// returned unchanged.
func Normalize(raw string) (string, error) {
	digits := digitsOnly(raw)

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "00"+countryCode):
		digits = digits[2:]
	case len(digits) == 8:
		digits = countryCode + digits
	}

	if len(digits) != 10 || !strings.HasPrefix(digits, countryCode) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	if first := digits[2]; first < '5' || first > '9' {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}

	return "+" + digits, nil
}

// IsCanonical reports whether phone is already in +53XXXXXXXX form.
func IsCanonical(phone string) bool {
	n, err := Normalize(phone)
	return err == nil && n == phone
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func overlapsAny(s span, claimed []span) bool {
	for _, c := range claimed {
		if s.overlaps(c) {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// isolated rejects candidates that continue into neighbouring digits, either
// directly or through a hyphen or dot ("5350-1224-43").
func isolated(text string, s span) bool {
	if s.start > 0 {
		prev := text[s.start-1]
		if isDigit(prev) {
			return false
		}
		if (prev == '-' || prev == '.') && s.start > 1 && isDigit(text[s.start-2]) {
			return false
		}
	}
	if s.end < len(text) {
		next := text[s.end]
		if isDigit(next) {
			return false
		}
		if (next == '-' || next == '.') && s.end+1 < len(text) && isDigit(text[s.end+1]) {
			return false
		}
	}
	return true
}

// orderByPosition sorts numbers by where their digits first occur in text so
// results do not depend on pattern order.
func orderByPosition(text string, numbers []string) []string {
	if len(numbers) < 2 {
		return numbers
	}
	flat := digitsOnly(text)
	pos := func(n string) int {
		local := n[len(n)-8:]
		if i := strings.Index(flat, local); i >= 0 {
			return i
		}
		return len(flat)
	}
	for i := 1; i < len(numbers); i++ {
		for j := i; j > 0 && pos(numbers[j]) < pos(numbers[j-1]); j-- {
			numbers[j], numbers[j-1] = numbers[j-1], numbers[j]
		}
	}
	return numbers
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// visibleText joins text nodes with spaces so adjacent elements never merge
// into one long digit run.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			if skippedElements[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}
