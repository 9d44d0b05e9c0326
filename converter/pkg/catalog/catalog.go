// Package catalog resolves a style code to its known color variants using the
// item-info reference file.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/metrics"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/pipe"
)

// Item-info field positions.
const (
	fieldVariant = iota
	fieldStyle
	fieldColor
	fieldDescription
	fieldStatus
)

// DefaultExcludedStatus marks catalog rows filtered out of the lookup table.
const DefaultExcludedStatus = "X"

type Options struct {
	Logger           *slog.Logger
	ExcludedStatuses []string
}

func (o *Options) Validate() error {
	if o.Logger == nil {
		return errors.New("logger is required")
	}
	if len(o.ExcludedStatuses) == 0 {
		o.ExcludedStatuses = []string{DefaultExcludedStatus}
	}
	return nil
}

// Catalog is a read-only style → (variant → color) table.
type Catalog struct {
	styles    map[string]map[string]string
	excluded  int
	malformed int
}

// Empty returns a catalog with no styles. Every style resolves to no variants.
func Empty() *Catalog {
	return &Catalog{styles: map[string]map[string]string{}}
}

func LoadFile(path string, opts Options) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()
	return Load(f, opts)
}

func Load(r io.Reader, opts Options) (*Catalog, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(opts.ExcludedStatuses))
	for _, s := range opts.ExcludedStatuses {
		excluded[s] = struct{}{}
	}

	c := Empty()
	err := pipe.Scan(r, func(lineNo int, line string) error {
		f := pipe.Split(line)
		variant, style := f.Get(fieldVariant), f.Get(fieldStyle)
		if variant == "" || style == "" {
			c.malformed++
			opts.Logger.Debug("catalog: skipping malformed row", "line", lineNo)
			return nil
		}
		if _, ok := excluded[f.Get(fieldStatus)]; ok {
			c.excluded++
			return nil
		}
		variants, ok := c.styles[style]
		if !ok {
			variants = make(map[string]string)
			c.styles[style] = variants
		}
		variants[variant] = f.Get(fieldColor)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	metrics.CatalogExcludedTotal.Add(float64(c.excluded))
	opts.Logger.Info("catalog: loaded", "styles", len(c.styles), "excluded", c.excluded, "malformed", c.malformed)
	return c, nil
}

// Variants returns variant code → color for style. Unknown styles yield an empty map.
// The returned map is a copy.
func (c *Catalog) Variants(style string) map[string]string {
	out := make(map[string]string, len(c.styles[style]))
	for v, color := range c.styles[style] {
		out[v] = color
	}
	return out
}

// Variant is one color variant of a style.
type Variant struct {
	Code  string
	Color string
}

// SortedVariants returns the style's variants ordered by variant code.
func (c *Catalog) SortedVariants(style string) []Variant {
	variants := c.styles[style]
	out := make([]Variant, 0, len(variants))
	for code, color := range variants {
		out = append(out, Variant{Code: code, Color: color})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Styles returns the known style codes in ascending order.
func (c *Catalog) Styles() []string {
	out := make([]string, 0, len(c.styles))
	for s := range c.styles {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) Len() int {
	return len(c.styles)
}

func (c *Catalog) Excluded() int {
	return c.excluded
}

func (c *Catalog) Malformed() int {
	return c.malformed
}
