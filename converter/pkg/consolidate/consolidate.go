// Package consolidate regroups an adjustment's (location, price) facts into pricing
// events: locations sharing an identical price list are merged, zones replace the
// stores they fully cover, and every event lists at most MaxLocations locations.
package consolidate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/metrics"
)

const DefaultMaxLocations = 25

type Config struct {
	Logger       *slog.Logger
	MaxLocations int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.MaxLocations < 0 {
		return fmt.Errorf("max locations must be positive, got %d", cfg.MaxLocations)
	}
	if cfg.MaxLocations == 0 {
		cfg.MaxLocations = DefaultMaxLocations
	}
	return nil
}

// PricingEvent is one output partition. Events of the same group share Header and
// Items; both must be treated as read-only.
type PricingEvent struct {
	AdjustmentID string
	Name         string
	// GroupIndex and PageIndex are 1-based.
	GroupIndex int
	PageIndex  int
	PageCount  int
	Header     adjustment.Header
	Locations  []string
	Items      []adjustment.ItemPrice
}

type Engine struct {
	log          *slog.Logger
	maxLocations int
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{log: cfg.Logger, maxLocations: cfg.MaxLocations}, nil
}

func (e *Engine) MaxLocations() int {
	return e.maxLocations
}

// Events consolidates a into pricing events named after EventBaseName(a). An
// adjustment that fails validation yields no events. A missing schedule is replaced
// by an open one.
func (e *Engine) Events(a *adjustment.Adjustment) ([]PricingEvent, error) {
	return e.EventsNamed(a, EventBaseName(a))
}

// EventsNamed is Events with the caller choosing the name prefix.
func (e *Engine) EventsNamed(a *adjustment.Adjustment, name string) ([]PricingEvent, error) {
	if name == "" {
		return nil, errors.New("event base name is required")
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.EnsureSchedule() {
		metrics.DefaultSchedulesTotal.Inc()
		e.log.Warn("consolidate: no schedule supplied, using open schedule", "adjustment", a.ID)
	}
	header, err := a.Header()
	if err != nil {
		return nil, err
	}

	groups := Substitute(GroupFacts(a.Items), a.Zones)

	var events []PricingEvent
	for gi, g := range groups {
		pages := Paginate(g.Labels, e.maxLocations)
		for pi, page := range pages {
			events = append(events, PricingEvent{
				AdjustmentID: a.ID,
				Name:         fmt.Sprintf("%s_%03d_%03d", name, gi+1, pi+1),
				GroupIndex:   gi + 1,
				PageIndex:    pi + 1,
				PageCount:    len(pages),
				Header:       header,
				Locations:    page,
				Items:        g.Items,
			})
		}
	}

	metrics.PricingEventsTotal.Add(float64(len(events)))
	e.log.Info("consolidate: adjustment consolidated",
		"adjustment", a.ID, "facts", len(a.Items), "groups", len(groups), "events", len(events))
	return events, nil
}

// Group is a set of location labels together with the items priced identically at
// every one of them. The first Zones labels are zone names, the rest store ids.
type Group struct {
	Labels []string
	Zones  int
	Items  []adjustment.ItemPrice
}

// key tells a zone apart from a store with the same id.
func (g Group) key() string {
	return strconv.Itoa(g.Zones) + "#" + canonicalKey(g.Labels)
}

// canonicalKey joins labels with the record delimiter, which never occurs inside a
// location id or zone name.
func canonicalKey(labels []string) string {
	return strings.Join(labels, "|")
}

// GroupFacts buckets facts by their location-free identity, then merges identities that
// occur at exactly the same set of locations. Labels are sorted store ids. Items are
// one representative fact per identity, the one at the lowest location id, ordered
// by style and color. Groups are ordered by their labels.
func GroupFacts(facts []adjustment.ItemPrice) []Group {
	type identity struct {
		fact      adjustment.ItemPrice
		locations map[string]struct{}
	}
	identities := make(map[adjustment.ItemKey]*identity)
	for _, f := range facts {
		k := f.Key()
		id, ok := identities[k]
		if !ok {
			id = &identity{fact: f, locations: make(map[string]struct{})}
			identities[k] = id
		}
		if f.Location < id.fact.Location {
			id.fact = f
		}
		id.locations[f.Location] = struct{}{}
	}

	bySet := make(map[string]*Group)
	for _, id := range identities {
		labels := sortedSet(id.locations)
		k := canonicalKey(labels)
		g, ok := bySet[k]
		if !ok {
			g = &Group{Labels: labels}
			bySet[k] = g
		}
		g.Items = append(g.Items, id.fact)
	}
	return sortGroups(bySet)
}

// Substitute replaces, within every group, the stores of each fully covered zone by
// the zone name. Zones are tried largest first with ties broken by name, each one
// against the set left by earlier substitutions. Labels become the sorted zone names
// followed by the sorted remaining stores. Groups that end up with the same labels
// are merged. Only store labels are candidates, so a store whose id equals a zone name
// stays a store, and running Substitute on its own output changes nothing.
func Substitute(groups []Group, zones adjustment.Zones) []Group {
	ordered := zones.BySize()
	bySet := make(map[string]*Group, len(groups))
	for _, g := range groups {
		sub := substituteLabels(g, ordered)
		k := sub.key()
		existing, ok := bySet[k]
		if !ok {
			sub.Items = append([]adjustment.ItemPrice(nil), g.Items...)
			bySet[k] = &sub
			continue
		}
		existing.Items = mergeItems(existing.Items, g.Items)
	}
	return sortGroups(bySet)
}

func substituteLabels(g Group, ordered []adjustment.Zone) Group {
	n := min(max(g.Zones, 0), len(g.Labels))
	zoneNames := append([]string(nil), g.Labels[:n]...)
	set := make(map[string]struct{}, len(g.Labels)-n)
	for _, l := range g.Labels[n:] {
		set[l] = struct{}{}
	}
	for _, z := range ordered {
		if !z.CoveredBy(set) {
			continue
		}
		for m := range z.Members {
			delete(set, m)
		}
		zoneNames = append(zoneNames, z.Name)
	}
	sort.Strings(zoneNames)
	return Group{Labels: append(zoneNames, sortedSet(set)...), Zones: len(zoneNames)}
}

func mergeItems(a, b []adjustment.ItemPrice) []adjustment.ItemPrice {
	seen := make(map[adjustment.ItemKey]struct{}, len(a)+len(b))
	out := make([]adjustment.ItemPrice, 0, len(a)+len(b))
	for _, items := range [][]adjustment.ItemPrice{a, b} {
		for _, it := range items {
			k := it.Key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

func sortGroups(bySet map[string]*Group) []Group {
	out := make([]Group, 0, len(bySet))
	for _, g := range bySet {
		sortItems(g.Items)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := canonicalKey(out[i].Labels), canonicalKey(out[j].Labels)
		if ki != kj {
			return ki < kj
		}
		return out[i].Zones < out[j].Zones
	})
	return out
}

func sortItems(items []adjustment.ItemPrice) {
	sort.Slice(items, func(i, j int) bool { return items[i].Key().Less(items[j].Key()) })
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Paginate splits labels into consecutive pages of at most size entries. N labels
// produce ceil(N/size) pages.
func Paginate(labels []string, size int) [][]string {
	if size <= 0 {
		size = DefaultMaxLocations
	}
	pages := make([][]string, 0, (len(labels)+size-1)/size)
	for start := 0; start < len(labels); start += size {
		end := min(start+size, len(labels))
		pages = append(pages, labels[start:end:end])
	}
	return pages
}

// EventBaseName turns the adjustment name into a file-system safe prefix: every run
// of characters other than letters, digits, '-' and '_' becomes a single '_'. The id
// is used when nothing is left of the name.
func EventBaseName(a *adjustment.Adjustment) string {
	if s := sanitize(a.Name); s != "" {
		return s
	}
	if s := sanitize(a.ID); s != "" {
		return s
	}
	return "event"
}

// QualifiedBaseName is EventBaseName followed by the sanitized adjustment id. It
// tells apart adjustments that share a display name.
func QualifiedBaseName(a *adjustment.Adjustment) string {
	base := EventBaseName(a)
	id := sanitize(a.ID)
	if id == "" || id == base {
		return base
	}
	return base + "_" + id
}

func sanitize(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
