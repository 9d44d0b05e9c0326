package adjustment

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedCountry = errors.New("unsupported country")
	ErrUnsupportedLocale  = errors.New("no date format configured for locale")
	ErrMissingParameter   = errors.New("missing adjustment parameter")
)

// ValidationError carries the adjustment and the offending value of a failed check.
type ValidationError struct {
	AdjustmentID string
	Field        string
	Value        string
	Err          error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("adjustment %s: %s %q: %v", e.AdjustmentID, e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks that the adjustment can be exported. It does not touch the
// schedule; see EnsureSchedule.
func (a *Adjustment) Validate() error {
	for _, name := range RequiredParameters {
		if _, ok := a.Parameters[name]; !ok {
			return &ValidationError{AdjustmentID: a.ID, Field: "parameter", Value: name, Err: ErrMissingParameter}
		}
	}
	country := a.Param(ParamCountry)
	if !IsSupportedCountry(country) {
		return &ValidationError{AdjustmentID: a.ID, Field: ParamCountry, Value: country, Err: ErrUnsupportedCountry}
	}
	if _, err := FormatDate(country, a.scheduleStart()); err != nil {
		return &ValidationError{AdjustmentID: a.ID, Field: ParamCountry, Value: country, Err: ErrUnsupportedLocale}
	}
	return nil
}
