// Package export renders pricing events into the row layout the downstream import
// reads and writes them as tab-delimited or XLSX files.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/GeorgeGarkavenko/guess/converter/pkg/consolidate"
	"github.com/xuri/excelize/v2"
)

// LocationMarker opens the location row of every import file.
const LocationMarker = "L"

// ItemHeader heads the item section.
var ItemHeader = []string{"Style", "Color", "NewPrice"}

type Format string

const (
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTSV, FormatXLSX:
		return f, nil
	case "":
		return FormatTSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) Extension() string {
	return "." + string(f)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/tab-separated-values"
}

// Rows lays out one event: header labels, header values, the location row, the
// item header and one row per item.
func Rows(ev consolidate.PricingEvent) [][]string {
	rows := make([][]string, 0, 4+len(ev.Items))
	rows = append(rows, ev.Header.Labels(), ev.Header.Values())
	rows = append(rows, append([]string{LocationMarker}, ev.Locations...))
	rows = append(rows, append([]string(nil), ItemHeader...))
	for _, it := range ev.Items {
		rows = append(rows, []string{it.Style, it.Color, it.Price})
	}
	return rows
}

// FileName is the event name plus the format extension.
func FileName(ev consolidate.PricingEvent, f Format) string {
	return ev.Name + f.Extension()
}

// Encode writes rows to w in format f.
func Encode(w io.Writer, f Format, rows [][]string) error {
	switch f {
	case FormatTSV:
		return encodeTSV(w, rows)
	case FormatXLSX:
		return encodeXLSX(w, rows)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// Marshal renders one event in format f.
func Marshal(ev consolidate.PricingEvent, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, f, Rows(ev)); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ev.Name, err)
	}
	return buf.Bytes(), nil
}

func encodeTSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write tsv: %w", err)
	}
	return nil
}

// SheetName is the single worksheet of an XLSX export.
const SheetName = "PricingEvent"

func encodeXLSX(w io.Writer, rows [][]string) error {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := xl.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	if _, err := xl.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}
