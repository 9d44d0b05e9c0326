package adjustment

import (
	"fmt"
	"time"
)

// HeaderRecordMarker opens the header values row of every import file.
const HeaderRecordMarker = "H"

type HeaderField struct {
	Label string
	Value string
}

// Header is the ordered label/value pair list heading every pricing event file.
type Header []HeaderField

func (h Header) Labels() []string {
	out := make([]string, len(h))
	for i, f := range h {
		out[i] = f.Label
	}
	return out
}

func (h Header) Values() []string {
	out := make([]string, len(h))
	for i, f := range h {
		out[i] = f.Value
	}
	return out
}

// Header projects a validated adjustment into its import header. The schedule must
// already be present (see EnsureSchedule); dates are formatted per the Country
// parameter. PercentOff is reserved and always empty.
func (a *Adjustment) Header() (Header, error) {
	country := a.Param(ParamCountry)
	start, err := FormatDate(country, a.scheduleStart())
	if err != nil {
		return nil, fmt.Errorf("adjustment %s: start date: %w", a.ID, err)
	}
	end, err := FormatDate(country, a.scheduleEnd())
	if err != nil {
		return nil, fmt.Errorf("adjustment %s: end date: %w", a.ID, err)
	}

	return Header{
		{Label: "Record", Value: HeaderRecordMarker},
		{Label: "Description", Value: a.Name},
		{Label: ParamPriceCode, Value: a.Param(ParamPriceCode)},
		{Label: ParamEventType, Value: a.Param(ParamEventType)},
		{Label: ParamReasonCode, Value: a.Param(ParamReasonCode)},
		{Label: ParamCountry, Value: country},
		{Label: ParamDataType, Value: a.Param(ParamDataType)},
		{Label: ParamBasedOn, Value: a.Param(ParamBasedOn)},
		{Label: ParamOverrideAll, Value: a.Param(ParamOverrideAll)},
		{Label: "StartDate", Value: start},
		{Label: "EndDate", Value: end},
		{Label: "PercentOff", Value: ""},
	}, nil
}

func (a *Adjustment) scheduleStart() time.Time {
	if a.Schedule == nil {
		return time.Time{}
	}
	return a.Schedule.StartDate
}

func (a *Adjustment) scheduleEnd() time.Time {
	if a.Schedule == nil {
		return time.Time{}
	}
	return a.Schedule.EndDate
}
