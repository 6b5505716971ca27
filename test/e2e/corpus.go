// Package e2e exercises the full pipeline: catalog images on disk, a built
// snapshot, and similarity queries through the search engine.
package e2e

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/hyperjump/miwake/pkg/utils"
)

// CatalogImage is one generated catalog entry. Stem is the file name without
// extension; the builder derives the display name from it.
type CatalogImage struct {
	Category string
	Stem     string
	Ext      string
	Name     string
	Color    color.RGBA
}

// QueryCase probes the engine with a fresh encoding of one item's pixels and
// expects that item ranked first. Only PNG items qualify: a lossless re-encode
// decodes to the exact raster the builder embedded.
type QueryCase struct {
	Stem        string
	WantName    string
	Description string
}

// KeywordCase checks that a name or category search finds an item.
type KeywordCase struct {
	Query       string
	WantName    string
	Description string
}

// Corpus holds the generated catalog and its query cases.
type Corpus struct {
	Images       []CatalogImage
	QueryCases   []QueryCase
	KeywordCases []KeywordCase
}

var catalogGroups = []struct {
	category string
	stems    []string
}{
	{"shoes", []string{
		"crimson-sneaker", "navy-boot", "lime-sandal", "amber-loafer",
		"violet-heel", "teal-trainer", "coral-slipper", "olive-oxford",
	}},
	{"mugs", []string{
		"azure-mug", "rose-teacup", "mint-tumbler",
		"gold-espresso-cup", "slate-stein", "ivory-latte-bowl",
	}},
	{"bags", []string{
		"scarlet-tote", "indigo-backpack", "jade-clutch",
		"bronze-satchel", "plum-duffel", "sand-messenger",
	}},
	{"hats", []string{
		"cherry-beanie", "cobalt-fedora", "moss-cap", "copper-sunhat",
	}},
}

// jpegStems are written as JPEG instead of PNG to cover the mixed-format
// catalog path.
var jpegStems = map[string]bool{
	"amber-loafer": true,
	"plum-duffel":  true,
}

// colorFor assigns each item a distinct solid color. The red channel alone is
// unique per index (37 is coprime with 256), so no two items ever share a
// raster.
func colorFor(i int) color.RGBA {
	return color.RGBA{
		R: uint8(37 * (i + 1)),
		G: uint8(91*i + 54),
		B: uint8(53*i + 17),
		A: 255,
	}
}

// BuildCorpus returns the generated catalog plus its query test cases. Every
// probe targets a distinct item; keyword cases cover name and category terms.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	i := 0
	for _, group := range catalogGroups {
		for _, stem := range group.stems {
			ext := ".png"
			if jpegStems[stem] {
				ext = ".jpg"
			}
			c.Images = append(c.Images, CatalogImage{
				Category: group.category,
				Stem:     stem,
				Ext:      ext,
				Name:     utils.TitleWords(stem),
				Color:    colorFor(i),
			})
			i++
		}
	}

	// Probe every third PNG item; JPEG items are covered by the raw-bytes
	// self-query test instead.
	for j := 0; j < len(c.Images); j += 3 {
		img := c.Images[j]
		if img.Ext != ".png" {
			continue
		}
		c.QueryCases = append(c.QueryCases, QueryCase{
			Stem:        img.Stem,
			WantName:    img.Name,
			Description: fmt.Sprintf("probe with %s pixels should return %q first", img.Stem, img.Name),
		})
	}

	c.KeywordCases = []KeywordCase{
		{Query: "sneaker", WantName: "Crimson Sneaker", Description: "name token"},
		{Query: "backpack", WantName: "Indigo Backpack", Description: "name token"},
		{Query: "espresso", WantName: "Gold Espresso Cup", Description: "middle name token"},
		{Query: "hats", WantName: "Cobalt Fedora", Description: "category term"},
	}
	return c
}

// WriteCatalog writes every corpus image under root/<category>/<stem><ext>.
func (c *Corpus) WriteCatalog(root string) error {
	for _, img := range c.Images {
		data, err := EncodeImage(img.Color, img.Ext)
		if err != nil {
			return fmt.Errorf("encode %s: %w", img.Stem, err)
		}
		path := filepath.Join(root, img.Category, img.Stem+img.Ext)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the corpus image with the given stem.
func (c *Corpus) Find(stem string) (CatalogImage, bool) {
	for _, img := range c.Images {
		if img.Stem == stem {
			return img, true
		}
	}
	return CatalogImage{}, false
}

// Probe returns a fresh PNG encoding of the item's pixels, as an independent
// client would produce. The bytes differ from the file on disk; the decoded
// raster does not.
func (c *Corpus) Probe(stem string) ([]byte, error) {
	img, ok := c.Find(stem)
	if !ok {
		return nil, fmt.Errorf("no corpus image with stem %q", stem)
	}
	if img.Ext != ".png" {
		return nil, fmt.Errorf("probe re-encoding is only exact for png, %q is %s", stem, img.Ext)
	}
	return EncodeImage(img.Color, ".png")
}
