package ingest

import (
	"fmt"
	"time"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/metrics"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/pipe"
	"github.com/shopspring/decimal"
)

// Record-type tags.
const (
	TagAdjustment  = "A"
	TagDescription = "D"
	TagSchedule    = "S"
	TagUser        = "U"
	TagCustomer    = "C"
	TagLocation    = "L"
	TagProduct     = "P"
	TagParameter   = "V"
	TagLocationBU  = "LB"
	TagItemPrice   = "I"
)

// Item record field positions, counted from the tag.
const (
	itemLocationNode = 6 + iota
	itemZone
	itemLocation
	itemStartDate
	itemEndDate
	itemProductGroup
	itemStyle
	itemColor
	itemVariant
	itemPrice
	itemCurrency
)

// scheduleDayOffset is the position of the Monday flag in a schedule record.
const scheduleDayOffset = 5

type recordHandler func(in *Ingestor, f pipe.Fields) error

var recordHandlers = map[string]recordHandler{
	TagAdjustment:  (*Ingestor).handleAdjustment,
	TagDescription: (*Ingestor).handleDescription,
	TagSchedule:    (*Ingestor).handleSchedule,
	TagUser:        nodeHandler(adjustment.NodeUser),
	TagCustomer:    nodeHandler(adjustment.NodeCustomer),
	TagLocation:    nodeHandler(adjustment.NodeLocation),
	TagProduct:     nodeHandler(adjustment.NodeProduct),
	TagParameter:   (*Ingestor).handleParameter,
	TagLocationBU:  (*Ingestor).handleLocationBusiness,
	TagItemPrice:   (*Ingestor).handleItemPrice,
}

func (in *Ingestor) handleAdjustment(f pipe.Fields) error {
	id := f.Get(1)
	if id == "" {
		return fmt.Errorf("%w: empty adjustment id", ErrMalformedRecord)
	}
	in.open(adjustment.New(id, f.Get(2), f.Get(3), f.Get(4), f.Get(5)))
	in.log.Debug("ingest: adjustment opened", "adjustment", id, "name", f.Get(3))
	return nil
}

func (in *Ingestor) handleDescription(f pipe.Fields) error {
	lang := f.Get(1)
	in.current.Descriptions[lang] = adjustment.Description{
		Language: lang,
		Text:     f.Get(2),
		Image:    f.Get(3),
	}
	return nil
}

func (in *Ingestor) handleSchedule(f pipe.Fields) error {
	start, err := parseDate(f.Get(1))
	if err != nil {
		return err
	}
	end, err := parseDate(f.Get(2))
	if err != nil {
		return err
	}
	s := &adjustment.Schedule{
		StartDate: start,
		EndDate:   end,
		StartTime: f.Get(3),
		Duration:  f.Get(4),
	}
	for i := range s.Days {
		switch flag := f.Get(scheduleDayOffset + i); flag {
		case "", "1":
			s.Days[i] = true
		case "0":
		default:
			return fmt.Errorf("%w: day flag %q", ErrMalformedRecord, flag)
		}
	}
	if in.current.Schedule != nil {
		in.log.Debug("ingest: schedule replaced", "adjustment", in.current.ID)
	}
	in.current.Schedule = s
	return nil
}

func nodeHandler(kind adjustment.NodeKind) recordHandler {
	return func(in *Ingestor, f pipe.Fields) error {
		node := adjustment.HierarchyNode{
			Kind:      kind,
			Level:     f.Get(1),
			Inclusion: f.Get(2),
			ID:        f.Get(3),
			Name:      f.Get(4),
		}
		for i := 5; i < len(f); i++ {
			node.Extra = append(node.Extra, f.Get(i))
		}
		in.current.AddNode(node)
		return nil
	}
}

func (in *Ingestor) handleParameter(f pipe.Fields) error {
	name := f.Get(1)
	if name == "" {
		return fmt.Errorf("%w: empty parameter name", ErrMalformedRecord)
	}
	in.current.SetParameter(name, adjustment.Parameter{Value: f.Get(2), Currency: f.Get(3)})
	return nil
}

func (in *Ingestor) handleLocationBusiness(f pipe.Fields) error {
	lb := adjustment.LocationBusiness{ID: f.Get(1), Zone: f.Get(2), BusinessUnit: f.Get(3)}
	if lb.ID == "" {
		return fmt.Errorf("%w: empty location id", ErrMalformedRecord)
	}
	if !in.current.AddLocation(lb) {
		in.log.Debug("ingest: duplicate location ignored", "adjustment", in.current.ID, "location", lb.ID)
	}
	return nil
}

// handleItemPrice resolves one item record. A style-level record (no variant) is
// expanded through the catalog into one fact per color variant. A variant-level
// record replaces the fact an earlier expansion produced for the same location and
// variant, keeping the expanded style and, when the record leaves it blank, color.
// With no such fact it is dropped.
func (in *Ingestor) handleItemPrice(f pipe.Fields) error {
	a := in.current
	location := f.Get(itemLocation)
	if _, ok := a.Locations[location]; !ok {
		return fmt.Errorf("%w: %q", ErrLocationNotFound, location)
	}

	fact, err := parseItem(f)
	if err != nil {
		return err
	}

	if fact.Variant == "" {
		in.expand(fact)
		return nil
	}

	key := overrideKey{location: fact.Location, variant: fact.Variant}
	pos, ok := in.expansions[key]
	if !ok {
		in.stats.OverridesDropped++
		metrics.OverridesDroppedTotal.Inc()
		in.log.Warn("ingest: variant override has no expanded style, dropping",
			"adjustment", a.ID, "line", in.lineNo, "location", location, "style", fact.Style, "variant", fact.Variant)
		return nil
	}
	expanded := a.Items[pos]
	if fact.Style != expanded.Style {
		in.log.Debug("ingest: variant override names another style, keeping the catalog style",
			"adjustment", a.ID, "line", in.lineNo, "variant", fact.Variant, "style", fact.Style, "catalog_style", expanded.Style)
		fact.Style = expanded.Style
	}
	if fact.Color == "" {
		fact.Color = expanded.Color
	}
	a.Items[pos] = fact
	in.stats.OverridesApplied++
	return nil
}

func (in *Ingestor) expand(fact adjustment.ItemPrice) {
	a := in.current
	variants := in.catalog.SortedVariants(fact.Style)
	if len(variants) == 0 {
		in.stats.UnexpandedStyles++
		a.Items = append(a.Items, fact)
		return
	}
	in.stats.ExpandedStyles++
	for _, v := range variants {
		expanded := fact
		expanded.Variant = v.Code
		expanded.Color = v.Color
		in.expansions[overrideKey{location: fact.Location, variant: v.Code}] = len(a.Items)
		a.Items = append(a.Items, expanded)
	}
}

func parseItem(f pipe.Fields) (adjustment.ItemPrice, error) {
	start, err := parseDate(f.Get(itemStartDate))
	if err != nil {
		return adjustment.ItemPrice{}, err
	}
	end, err := parseDate(f.Get(itemEndDate))
	if err != nil {
		return adjustment.ItemPrice{}, err
	}
	price := f.Get(itemPrice)
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return adjustment.ItemPrice{}, fmt.Errorf("%w: price %q", ErrMalformedRecord, price)
	}
	return adjustment.ItemPrice{
		Currency:     f.Get(itemCurrency),
		ProductGroup: f.Get(itemProductGroup),
		Style:        f.Get(itemStyle),
		Color:        f.Get(itemColor),
		Variant:      f.Get(itemVariant),
		Price:        price,
		Amount:       amount,
		Location:     f.Get(itemLocation),
		LocationNode: f.Get(itemLocationNode),
		Zone:         f.Get(itemZone),
		StartDate:    start,
		EndDate:      end,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(adjustment.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformedRecord, s)
	}
	return t, nil
}
