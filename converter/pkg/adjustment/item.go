package adjustment

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemPrice ties one product variant at one location to one price over a date range.
type ItemPrice struct {
	Currency     string
	ProductGroup string
	Style        string
	Color        string
	Variant      string

	// Price is the value exactly as exported upstream; Amount is its parsed form.
	Price  string
	Amount decimal.Decimal

	Location     string
	LocationNode string
	Zone         string
	StartDate    time.Time
	EndDate      time.Time
}

// ItemKey is the location-free identity of an ItemPrice. Facts with equal keys are
// the same price regardless of where they apply.
type ItemKey struct {
	Currency     string
	ProductGroup string
	Style        string
	Color        string
	Variant      string
	StartDate    time.Time
	EndDate      time.Time
	Price        string
}

func (p ItemPrice) Key() ItemKey {
	return ItemKey{
		Currency:     p.Currency,
		ProductGroup: p.ProductGroup,
		Style:        p.Style,
		Color:        p.Color,
		Variant:      p.Variant,
		StartDate:    p.StartDate.UTC(),
		EndDate:      p.EndDate.UTC(),
		Price:        p.Price,
	}
}

// Less orders keys by style and color, then by the remaining fields so that the
// order is total.
func (k ItemKey) Less(o ItemKey) bool {
	switch {
	case k.Style != o.Style:
		return k.Style < o.Style
	case k.Color != o.Color:
		return k.Color < o.Color
	case k.Variant != o.Variant:
		return k.Variant < o.Variant
	case k.ProductGroup != o.ProductGroup:
		return k.ProductGroup < o.ProductGroup
	case k.Currency != o.Currency:
		return k.Currency < o.Currency
	case !k.StartDate.Equal(o.StartDate):
		return k.StartDate.Before(o.StartDate)
	case !k.EndDate.Equal(o.EndDate):
		return k.EndDate.Before(o.EndDate)
	default:
		return k.Price < o.Price
	}
}
