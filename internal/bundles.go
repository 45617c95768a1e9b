package internal

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

//go:embed bundles.yaml
var defaultBundles []byte

type Catalog struct {
	Currency string   `yaml:"currency"`
	Bundles  []Bundle `yaml:"bundles"`
}

// LoadCatalog reads the bundle catalog from path, or the built-in one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	raw := defaultBundles
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return parseCatalog(raw)
}

func parseCatalog(raw []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("bundle catalog: %w", err)
	}
	if cat.Currency == "" {
		cat.Currency = "KES"
	}
	if cat.Bundles == nil {
		cat.Bundles = []Bundle{}
	}

	p := message.NewPrinter(language.English)
	seen := map[string]bool{}
	for i := range cat.Bundles {
		b := &cat.Bundles[i]
		if b.ID == "" || b.Price <= 0 {
			return nil, fmt.Errorf("bundle catalog: entry %d needs an id and a positive price", i)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("bundle catalog: duplicate id %q", b.ID)
		}
		seen[b.ID] = true
		b.PriceLabel = p.Sprintf("%s %d", cat.Currency, b.Price)
	}
	return &cat, nil
}

func (c *Catalog) Find(id string) (Bundle, bool) {
	for _, b := range c.Bundles {
		if b.ID == id {
			return b, true
		}
	}
	return Bundle{}, false
}

func ListBundles(cat *Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, cat.Bundles)
	}
}

func GetBundle(cat *Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		b, ok := cat.Find(c.Param("id"))
		if !ok {
			c.JSON(404, gin.H{"error": "not found"})
			return
		}
		c.JSON(200, b)
	}
}
