package profile

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mohammad-safakhou/cartpilot/models"
	"gopkg.in/yaml.v3"
)

// Profile describes how to drive one storefront: where to search, how result
// records look on the page and which controls mean "checkout".
type Profile struct {
	Name        string `yaml:"name"`
	HomeURL     string `yaml:"home_url"`
	SearchURL   string `yaml:"search_url"`   // contains {query}
	SearchInput string `yaml:"search_input"` // used when SearchURL is empty

	ResultSelector string `yaml:"result_selector"`
	TitleSelector  string `yaml:"title_selector"`
	TitleAttr      string `yaml:"title_attr"`
	BrandSelector  string `yaml:"brand_selector"`
	PriceSelector  string `yaml:"price_selector"`
	RatingSelector string `yaml:"rating_selector"`
	RatingAttr     string `yaml:"rating_attr"`
	LinkSelector   string `yaml:"link_selector"`

	WaitSelector string        `yaml:"wait_selector"`
	SettleDelay  time.Duration `yaml:"settle_delay"`

	ProductURLPattern string   `yaml:"product_url_pattern"`
	CheckoutControls  []string `yaml:"checkout_controls"`

	productRE *regexp.Regexp
}

type file struct {
	Storefronts []Profile `yaml:"storefronts"`
}

// Load reads every profile from a YAML file.
func Load(path string) ([]Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read storefront profiles: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML profile document.
func Parse(raw []byte) ([]Profile, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode storefront profiles: %w", err)
	}
	if len(f.Storefronts) == 0 {
		return nil, fmt.Errorf("no storefronts defined")
	}
	for i := range f.Storefronts {
		if err := f.Storefronts[i].Compile(); err != nil {
			return nil, err
		}
	}
	return f.Storefronts, nil
}

// Select returns the profile called name, or the first one when name is empty.
func Select(profiles []Profile, name string) (Profile, error) {
	if len(profiles) == 0 {
		return Profile{}, fmt.Errorf("no storefronts defined")
	}
	if strings.TrimSpace(name) == "" {
		return profiles[0], nil
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("storefront %q not found", name)
}

// Compile validates the profile and prepares its product URL pattern.
func (p *Profile) Compile() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("storefront profile missing name")
	}
	if p.SearchURL == "" && (p.HomeURL == "" || p.SearchInput == "") {
		return fmt.Errorf("storefront %s: search_url or home_url+search_input required", p.Name)
	}
	if p.SearchURL != "" && !strings.Contains(p.SearchURL, "{query}") {
		return fmt.Errorf("storefront %s: search_url must contain {query}", p.Name)
	}
	if strings.TrimSpace(p.ResultSelector) == "" {
		return fmt.Errorf("storefront %s: result_selector required", p.Name)
	}
	if len(p.CheckoutControls) == 0 {
		return fmt.Errorf("storefront %s: checkout_controls required", p.Name)
	}
	if p.ProductURLPattern != "" {
		re, err := regexp.Compile(p.ProductURLPattern)
		if err != nil {
			return fmt.Errorf("storefront %s: product_url_pattern: %w", p.Name, err)
		}
		p.productRE = re
	}
	return nil
}

// SearchURLFor renders the search URL for query.
func (p Profile) SearchURLFor(query string) string {
	return strings.ReplaceAll(p.SearchURL, "{query}", url.QueryEscape(strings.TrimSpace(query)))
}

// Ready returns the selector to wait for after a navigation.
func (p Profile) Ready() string {
	if p.WaitSelector != "" {
		return p.WaitSelector
	}
	return "body"
}

// IsProductDetail reports whether location is the detail page for c.
func (p Profile) IsProductDetail(location string, c models.Candidate) bool {
	loc, err := url.Parse(strings.TrimSpace(location))
	if err != nil || loc.Host == "" {
		return false
	}
	if p.productRE == nil && p.ProductURLPattern != "" {
		if err := p.Compile(); err != nil {
			return false
		}
	}
	if p.productRE == nil {
		link, err := url.Parse(c.Link)
		if err != nil {
			return false
		}
		return strings.EqualFold(loc.Host, link.Host) && trimSlash(loc.Path) == trimSlash(link.Path)
	}
	m := p.productRE.FindStringSubmatch(location)
	if m == nil {
		return false
	}
	if len(m) < 2 {
		return true
	}
	lm := p.productRE.FindStringSubmatch(c.Link)
	if len(lm) < 2 || lm[1] == "" {
		return true
	}
	return m[1] == lm[1]
}

func trimSlash(s string) string {
	s = strings.TrimRight(s, "/")
	if s == "" {
		return "/"
	}
	return s
}
