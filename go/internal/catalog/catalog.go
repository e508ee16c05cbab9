// Package catalog resolves cosmetic SKUs to display assets.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Item struct {
	SKU      string `yaml:"sku" json:"sku"`
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Rarity   string `yaml:"rarity" json:"rarity"`
	Price    int    `yaml:"price" json:"price"`
	Currency string `yaml:"currency" json:"currency"`
	Image    string `yaml:"image" json:"image"`
}

type file struct {
	BotImage string `yaml:"bot_image"`
	Items    []Item `yaml:"items"`
}

// Catalog is read-only after construction.
type Catalog struct {
	items    map[string]Item
	botImage string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog file. A missing file yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("catalog file not found, using built-in catalog")
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{items: make(map[string]Item, len(f.Items)), botImage: f.BotImage}
	for _, it := range f.Items {
		if it.SKU == "" {
			return nil, errors.New("catalog item without sku")
		}
		if _, dup := c.items[it.SKU]; dup {
			return nil, fmt.Errorf("duplicate catalog sku %q", it.SKU)
		}
		c.items[it.SKU] = it
	}
	return c, nil
}

func (c *Catalog) Item(sku string) (Item, bool) {
	it, ok := c.items[sku]
	return it, ok
}

// CarImage returns the image of a car SKU, or "" when the SKU is unknown.
func (c *Catalog) CarImage(sku string) string {
	it, ok := c.items[sku]
	if !ok {
		log.Debug().Str("sku", sku).Msg("unknown car sku")
		return ""
	}
	return it.Image
}

func (c *Catalog) BotImage() string {
	return c.botImage
}
