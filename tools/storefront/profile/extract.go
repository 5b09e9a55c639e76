package profile

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mohammad-safakhou/cartpilot/internal/helpers"
	"github.com/mohammad-safakhou/cartpilot/models"
)

var (
	numberRE = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	spaceRE  = regexp.MustCompile(`\s+`)
)

var ratingWords = map[string]int{
	"zero":  0,
	"one":   1,
	"two":   2,
	"three": 3,
	"four":  4,
	"five":  5,
}

// Extract reads candidate records from a results page. Records without a
// title or link are dropped, links are made absolute against pageURL and a
// repeated title keeps its first occurrence.
func (p Profile) Extract(html, pageURL string) ([]models.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var out []models.Candidate
	seen := make(map[string]struct{})
	doc.Find(p.ResultSelector).Each(func(_ int, s *goquery.Selection) {
		c := models.Candidate{
			Title:  p.title(s),
			Brand:  clean(pick(s, p.BrandSelector).Text()),
			Price:  clean(pick(s, p.PriceSelector).Text()),
			Rating: p.rating(s),
			Link:   p.link(s, base),
		}
		if !c.Valid() {
			return
		}
		key := NormalizeTitle(c.Title)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, c)
	})
	return out, nil
}

// Locate re-reads the page and returns the record whose title matches.
// Exact matches win over containment matches.
func (p Profile) Locate(html, pageURL, title string) (models.Candidate, bool, error) {
	cands, err := p.Extract(html, pageURL)
	if err != nil {
		return models.Candidate{}, false, err
	}
	want := NormalizeTitle(title)
	for _, c := range cands {
		if NormalizeTitle(c.Title) == want {
			return c, true, nil
		}
	}
	for _, c := range cands {
		if TitlesMatch(c.Title, title) {
			return c, true, nil
		}
	}
	return models.Candidate{}, false, nil
}

// NormalizeTitle lowercases and collapses whitespace.
func NormalizeTitle(s string) string {
	return strings.ToLower(clean(s))
}

// TitlesMatch is a case-insensitive containment test in either direction.
func TitlesMatch(a, b string) bool {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// ParseRating turns "4.5 out of 5", "Three" or "star-rating Four" into an
// integer star count in [0, 5]. Unknown input and numbers above five, such
// as review counts, are 0.
func ParseRating(text string) int {
	if m := numberRE.FindString(text); m != "" {
		f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
		if err != nil || f <= 0 || f > models.MaxRating {
			return 0
		}
		return int(f)
	}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		if n, ok := ratingWords[tok]; ok {
			return n
		}
	}
	return 0
}

func (p Profile) title(s *goquery.Selection) string {
	sel := pick(s, p.TitleSelector)
	if p.TitleAttr != "" {
		if v, ok := sel.Attr(p.TitleAttr); ok && strings.TrimSpace(v) != "" {
			return clean(v)
		}
	}
	return clean(sel.Text())
}

func (p Profile) rating(s *goquery.Selection) int {
	if p.RatingSelector == "" {
		return 0
	}
	sel := s.Find(p.RatingSelector).First()
	if p.RatingAttr != "" {
		v, _ := sel.Attr(p.RatingAttr)
		return ParseRating(v)
	}
	return ParseRating(sel.Text())
}

func (p Profile) link(s *goquery.Selection, base *url.URL) string {
	var href string
	switch {
	case p.LinkSelector != "":
		href, _ = s.Find(p.LinkSelector).First().Attr("href")
	case goquery.NodeName(s) == "a":
		href, _ = s.Attr("href")
	default:
		href, _ = s.Find("a[href]").First().Attr("href")
	}
	return Resolve(base, href)
}

// Resolve makes href absolute against base and strips tracking parameters.
// Empty or unparsable input yields "".
func Resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || href == "#" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil || ref.IsAbs() {
		if !ref.IsAbs() {
			return ""
		}
		return helpers.CleanLink(ref.String())
	}
	return helpers.CleanLink(base.ResolveReference(ref).String())
}

func pick(s *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return s
	}
	return s.Find(selector).First()
}

func clean(s string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}
