// Package catalog holds the read-only marketplace of legal document
// templates. The list ships embedded in the binary as YAML.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/ip-intake-backend/internal/search"
)

//go:embed templates.yaml
var templatesYAML []byte

// ErrTemplateNotFound is returned by Lookup for an unknown ID.
var ErrTemplateNotFound = errors.New("template not found")

// Template is one purchasable document. Price is in KES.
type Template struct {
	ID          string   `json:"id"          yaml:"id"`
	Name        string   `json:"name"        yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Price       int      `json:"price"       yaml:"price"`
	Category    string   `json:"category"    yaml:"category"`
	Benefits    []string `json:"benefits"    yaml:"benefits"`
}

// Catalog is an immutable, ordered set of templates.
type Catalog struct {
	list []Template
	byID map[string]int
	idx  search.Index
}

// Parse decodes a catalog document. IDs must be unique and prices positive.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	c := &Catalog{list: doc.Templates, byID: make(map[string]int, len(doc.Templates))}
	for i, t := range doc.Templates {
		if t.ID == "" || t.Name == "" {
			return nil, fmt.Errorf("catalog: template %d missing id or name", i)
		}
		if t.Price <= 0 {
			return nil, fmt.Errorf("catalog: template %q has non-positive price", t.ID)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate template id %q", t.ID)
		}
		c.byID[t.ID] = i
	}
	docs := make([]search.Doc, len(c.list))
	for i, t := range c.list {
		docs[i] = search.Doc{
			ID:   t.ID,
			Text: strings.Join(append([]string{t.Name, t.Description, t.Category}, t.Benefits...), " "),
		}
	}
	c.idx = search.New(docs, search.WithStopwords(search.EnglishStopwords))
	return c, nil
}

// Default returns the embedded catalog. It panics if the embedded document
// is malformed, which only a broken build can cause.
func Default() *Catalog {
	c, err := Parse(templatesYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// List returns a copy of all templates in catalog order.
func (c *Catalog) List() []Template {
	out := make([]Template, len(c.list))
	copy(out, c.list)
	return out
}

// Lookup returns the template with the given ID.
func (c *Catalog) Lookup(id string) (Template, error) {
	i, ok := c.byID[id]
	if !ok {
		return Template{}, ErrTemplateNotFound
	}
	return c.list[i], nil
}

// Search ranks templates against a free-text query, best match first.
// Templates sharing no word with the query are left out; a blank query
// matches nothing.
func (c *Catalog) Search(query string) []Template {
	hits := c.idx.TopK(query, len(c.list))
	out := make([]Template, 0, len(hits))
	for _, h := range hits {
		out = append(out, c.list[c.byID[h.ID]])
	}
	return out
}
