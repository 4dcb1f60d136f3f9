package ve

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// csvFormulaTriggers are the leading characters that spreadsheet software
// treats as formula prefixes. Any cell beginning with one of these is
// quoted to neutralize formula injection when the CSV is opened in a
// spreadsheet tool.
const csvFormulaTriggers = "=+-@\t\r"

// sanitizeCSVCell prefixes cell with a single quote if its first character
// is a formula trigger.
func sanitizeCSVCell(cell string) string {
	if cell == "" {
		return cell
	}
	if strings.IndexByte(csvFormulaTriggers, cell[0]) >= 0 {
		return "'" + cell
	}
	return cell
}

// formatCell renders v at 4 decimal digits. signed forces a leading '+'
// for non-negative values (factor-table cells always carry a sign).
func formatCell(v float64, signed bool) string {
	v = round4(v)
	if signed {
		return fmt.Sprintf("%+.4f", v)
	}
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// EncodeTableCSV renders table against grid in the wire format: header row
// "RPM", then MAP bin values as ASCII floats; one body row per RPM bin.
// signed controls whether cells carry an explicit '+' (factor tables do;
// VE/AFR tables do not). Every cell is run through sanitizeCSVCell so the
// bytes are safe to open in a spreadsheet. This is the only place the core
// produces CSV, so sanitization is enforced unconditionally here rather
// than bolted on at the store layer.
func EncodeTableCSV(grid *Grid, table *Table, signed bool) ([]byte, error) {
	if err := table.CheckDims(grid); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = false

	header := make([]string, 0, grid.NumMAP()+1)
	header = append(header, "RPM")
	for _, m := range grid.MAPBins() {
		header = append(header, sanitizeCSVCell(strconv.FormatFloat(m, 'f', -1, 64)))
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}

	rpmBins := grid.RPMBins()
	for i, rpm := range rpmBins {
		row := make([]string, 0, grid.NumMAP()+1)
		row = append(row, sanitizeCSVCell(strconv.FormatFloat(rpm, 'f', -1, 64)))
		for j := 0; j < grid.NumMAP(); j++ {
			row = append(row, sanitizeCSVCell(formatCell(table.At(i, j), signed)))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return buf.Bytes(), nil
}

// unsanitizeCSVCell strips a single leading quote added by sanitizeCSVCell.
func unsanitizeCSVCell(cell string) string {
	if strings.HasPrefix(cell, "'") {
		return cell[1:]
	}
	return cell
}

// ParseTableCSV parses the wire CSV format into a Grid (derived from the
// header row and the first column) and a Table of the given unit.
func ParseTableCSV(data []byte, unit Unit) (*Grid, *Table, error) {
	r := csv.NewReader(bufio.NewReader(bytes.NewReader(data)))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parsing table csv: %v", ErrInvalidInput, err)
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("%w: table csv needs a header row and at least one body row", ErrInvalidInput)
	}
	header := records[0]
	if len(header) < 2 {
		return nil, nil, fmt.Errorf("%w: table csv header needs RPM plus at least one MAP column", ErrInvalidInput)
	}
	mapBins := make([]float64, 0, len(header)-1)
	for _, cell := range header[1:] {
		v, err := strconv.ParseFloat(unsanitizeCSVCell(cell), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid MAP bin header %q: %v", ErrInvalidInput, cell, err)
		}
		mapBins = append(mapBins, v)
	}

	rpmBins := make([]float64, 0, len(records)-1)
	rows := make([][]float64, 0, len(records)-1)
	for rowIdx, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, nil, fmt.Errorf("%w: row %d has %d columns, header has %d", ErrInvalidInput, rowIdx, len(rec), len(header))
		}
		rpm, err := strconv.ParseFloat(unsanitizeCSVCell(rec[0]), 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: row %d invalid RPM bin %q: %v", ErrInvalidInput, rowIdx, rec[0], err)
		}
		rpmBins = append(rpmBins, rpm)
		row := make([]float64, 0, len(mapBins))
		for _, cell := range rec[1:] {
			v, err := strconv.ParseFloat(unsanitizeCSVCell(cell), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: row %d invalid cell %q: %v", ErrInvalidInput, rowIdx, cell, err)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	grid, err := NewGrid(rpmBins, mapBins)
	if err != nil {
		return nil, nil, err
	}
	table, err := NewTableFromRows(grid, unit, rows)
	if err != nil {
		return nil, nil, err
	}
	return grid, table, nil
}
