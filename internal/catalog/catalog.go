// Package catalog holds the embedded list of arXiv subject categories that
// recipients may subscribe to.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultCatalog []byte

// ErrUnknownCategory is returned by Validate for a code outside the catalog.
var ErrUnknownCategory = errors.New("unknown category")

// Group is a named set of categories, as shown to subscribers.
type Group struct {
	Name string `yaml:"name" json:"name"`
	// Archives accept the bare archive code and any of its subcategories.
	Archives []string `yaml:"archives,omitempty" json:"archives,omitempty"`
	// Categories are individual subcategory codes.
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

type file struct {
	Groups []Group `yaml:"groups"`
}

// Catalog answers membership queries over the known categories.
type Catalog struct {
	groups     []Group
	archives   map[string]struct{}
	categories map[string]struct{}
}

// Default parses the embedded catalog. It panics if the embedded file is
// malformed, which can only happen at build time.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded category catalog: %v", err))
	}
	return c
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse category catalog: %w", err)
	}
	if len(f.Groups) == 0 {
		return nil, errors.New("category catalog has no groups")
	}

	c := &Catalog{
		groups:     f.Groups,
		archives:   make(map[string]struct{}),
		categories: make(map[string]struct{}),
	}
	for _, g := range f.Groups {
		for _, a := range g.Archives {
			c.archives[strings.TrimSpace(a)] = struct{}{}
		}
		for _, code := range g.Categories {
			c.categories[strings.TrimSpace(code)] = struct{}{}
		}
	}
	return c, nil
}

// Groups returns the catalog grouped for display.
func (c *Catalog) Groups() []Group {
	return slices.Clone(c.groups)
}

// Codes returns every listed archive and category code in catalog order.
func (c *Catalog) Codes() []string {
	var out []string
	for _, g := range c.groups {
		out = append(out, g.Archives...)
		out = append(out, g.Categories...)
	}
	return out
}

// Contains reports whether code is listed, either directly or as a
// subcategory of a listed archive ("math.ST" under "math").
func (c *Catalog) Contains(code string) bool {
	if _, ok := c.categories[code]; ok {
		return true
	}
	if _, ok := c.archives[code]; ok {
		return true
	}
	archive, sub, found := strings.Cut(code, ".")
	if !found || sub == "" {
		return false
	}
	_, ok := c.archives[archive]
	return ok
}

// Validate returns ErrUnknownCategory naming the first code not in the
// catalog.
func (c *Catalog) Validate(codes []string) error {
	for _, code := range codes {
		if !c.Contains(code) {
			return fmt.Errorf("%w: %q", ErrUnknownCategory, code)
		}
	}
	return nil
}
