// Package adjustment models one promotional price adjustment as it is rebuilt from
// the upstream export, and projects it into the header the downstream import expects.
package adjustment

import (
	"sort"
)

// Parameter names every adjustment must carry before it can be consolidated.
const (
	ParamPriceCode   = "PriceCode"
	ParamEventType   = "EventType"
	ParamReasonCode  = "ReasonCode"
	ParamCountry     = "Country"
	ParamDataType    = "DataType"
	ParamBasedOn     = "BasedOn"
	ParamOverrideAll = "OverrideAll"
)

// RequiredParameters lists the parameters checked by Validate, in header order.
var RequiredParameters = []string{
	ParamPriceCode,
	ParamEventType,
	ParamReasonCode,
	ParamCountry,
	ParamDataType,
	ParamBasedOn,
	ParamOverrideAll,
}

type Parameter struct {
	Value    string
	Currency string
}

type Description struct {
	Language string
	Text     string
	Image    string
}

// LocationBusiness is a location's pricing zone and business unit.
type LocationBusiness struct {
	ID           string
	Zone         string
	BusinessUnit string
}

// NodeKind tags the hierarchy bucket a node belongs to.
type NodeKind string

const (
	NodeUser     NodeKind = "U"
	NodeCustomer NodeKind = "C"
	NodeLocation NodeKind = "L"
	NodeProduct  NodeKind = "P"
)

// HierarchyNode is one user/customer/location/product hierarchy entry. Only the
// leading fields are named; the rest of the record is kept in Extra.
type HierarchyNode struct {
	Kind      NodeKind
	Level     string
	Inclusion string
	ID        string
	Name      string
	Extra     []string
}

type Adjustment struct {
	ID         string
	ExternalID string
	Name       string
	Event      string
	RuleName   string

	Schedule     *Schedule
	Parameters   map[string]Parameter
	Descriptions map[string]Description
	Hierarchy    map[NodeKind][]HierarchyNode

	// Locations is keyed by location id; see AddLocation.
	Locations map[string]LocationBusiness
	Items     []ItemPrice
	Zones     Zones
}

func New(id, externalID, name, event, ruleName string) *Adjustment {
	return &Adjustment{
		ID:           id,
		ExternalID:   externalID,
		Name:         name,
		Event:        event,
		RuleName:     ruleName,
		Parameters:   make(map[string]Parameter),
		Descriptions: make(map[string]Description),
		Hierarchy:    make(map[NodeKind][]HierarchyNode),
		Locations:    make(map[string]LocationBusiness),
	}
}

// AddLocation registers lb unless its id is already known. It reports whether the
// entry was stored.
func (a *Adjustment) AddLocation(lb LocationBusiness) bool {
	if _, ok := a.Locations[lb.ID]; ok {
		return false
	}
	a.Locations[lb.ID] = lb
	return true
}

func (a *Adjustment) SetParameter(name string, p Parameter) {
	a.Parameters[name] = p
}

// Param returns the parameter value, or "" when it is not set.
func (a *Adjustment) Param(name string) string {
	return a.Parameters[name].Value
}

func (a *Adjustment) AddNode(n HierarchyNode) {
	a.Hierarchy[n.Kind] = append(a.Hierarchy[n.Kind], n)
}

// LocationIDs returns the declared location ids in ascending order.
func (a *Adjustment) LocationIDs() []string {
	ids := make([]string, 0, len(a.Locations))
	for id := range a.Locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
