package adjustment

import (
	"fmt"
	"time"
)

// SupportedCountries are the export locales the downstream system accepts.
var SupportedCountries = map[string]struct{}{
	"USA": {},
	"CAN": {},
	"GBR": {},
	"FRA": {},
	"DEU": {},
}

// dateLayouts maps each export locale to the layout its import files use for dates.
var dateLayouts = map[string]string{
	"USA": "2006-01-02",
	"CAN": "2006-01-02",
	"GBR": "02/01/2006",
	"FRA": "02/01/2006",
	"DEU": "02.01.2006",
}

func IsSupportedCountry(country string) bool {
	_, ok := SupportedCountries[country]
	return ok
}

// FormatDate renders t in the country's date layout. The zero time renders as "".
func FormatDate(country string, t time.Time) (string, error) {
	layout, ok := dateLayouts[country]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLocale, country)
	}
	if t.IsZero() {
		return "", nil
	}
	return t.Format(layout), nil
}
