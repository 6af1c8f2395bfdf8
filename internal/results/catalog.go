// Package results loads the per-category result tables published after judging
// and keeps them as an immutable snapshot for the matcher.
package results

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is one competition track. Source is the URL or path of its CSV file.
type Category struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Source string `yaml:"source,omitempty" json:"-"`
}

// Label renders "TH03 : FinTech" for the certificate.
func (c Category) Label() string {
	return c.ID + " : " + c.Name
}

// Catalog is the fixed enumeration of categories. Its order is the match priority.
type Catalog []Category

// Find returns the category with id.
func (c Catalog) Find(id string) (Category, bool) {
	for _, cat := range c {
		if strings.EqualFold(cat.ID, id) {
			return cat, true
		}
	}
	return Category{}, false
}

// IDs lists category ids in catalog order.
func (c Catalog) IDs() []string {
	ids := make([]string, len(c))
	for i, cat := range c {
		ids[i] = cat.ID
	}
	return ids
}

// DefaultCatalog is the TH01..TH05 track list. Sources resolve to <baseURL>/<ID>.csv.
func DefaultCatalog(baseURL string) Catalog {
	cat := Catalog{
		{ID: "TH01", Name: "Smart Automation"},
		{ID: "TH02", Name: "HealthTech"},
		{ID: "TH03", Name: "FinTech and Blockchain"},
		{ID: "TH04", Name: "Sustainable Development"},
		{ID: "TH05", Name: "Open Innovation"},
	}
	return cat.withSources(baseURL)
}

type catalogFile struct {
	Categories []Category `yaml:"categories"`
}

// LoadCatalog reads a YAML category list. Entries without a source get <baseURL>/<ID>.csv.
func LoadCatalog(path, baseURL string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	return ParseCatalog(raw, baseURL)
}

// ParseCatalog decodes the YAML category list.
func ParseCatalog(raw []byte, baseURL string) (Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("parse categories: no categories defined")
	}
	seen := map[string]bool{}
	for i, c := range f.Categories {
		c.ID = strings.ToUpper(strings.TrimSpace(c.ID))
		if c.ID == "" {
			return nil, fmt.Errorf("parse categories: entry %d has no id", i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("parse categories: duplicate id %s", c.ID)
		}
		seen[c.ID] = true
		f.Categories[i] = c
	}
	return Catalog(f.Categories).withSources(baseURL), nil
}

func (c Catalog) withSources(baseURL string) Catalog {
	out := make(Catalog, len(c))
	base := strings.TrimRight(baseURL, "/")
	for i, cat := range c {
		if cat.Source == "" {
			cat.Source = base + "/" + cat.ID + ".csv"
		}
		out[i] = cat
	}
	return out
}
