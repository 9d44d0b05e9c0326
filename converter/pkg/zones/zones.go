// Package zones loads the store hierarchy reference file: one "zone|location" pair
// per line.
package zones

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/adjustment"
	"github.com/GeorgeGarkavenko/guess/converter/pkg/pipe"
)

func LoadFile(log *slog.Logger, path string) (adjustment.Zones, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open zone file: %w", err)
	}
	defer f.Close()
	return Load(log, f)
}

func Load(log *slog.Logger, r io.Reader) (adjustment.Zones, error) {
	zs := adjustment.Zones{}
	skipped := 0
	err := pipe.Scan(r, func(lineNo int, line string) error {
		f := pipe.Split(line)
		zone, location := f.Get(0), f.Get(1)
		if zone == "" || location == "" {
			skipped++
			log.Debug("zones: skipping incomplete row", "line", lineNo)
			return nil
		}
		zs.Add(zone, location)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	log.Info("zones: loaded", "zones", len(zs), "skipped", skipped)
	return zs, nil
}
