package ve

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeParseTableCSV_RoundTrip(t *testing.T) {
	g := testGrid(t)
	tbl := NewTable(g, UnitVE)
	tbl.Set(0, 0, 0.8)
	tbl.Set(1, 1, 1.0123)
	tbl.Set(2, 2, 1.5)

	data, err := EncodeTableCSV(g, tbl, false)
	if err != nil {
		t.Fatalf("unexpected error encoding: %v", err)
	}
	gotGrid, gotTable, err := ParseTableCSV(data, UnitVE)
	if err != nil {
		t.Fatalf("unexpected error parsing: %v", err)
	}
	if !g.Equal(gotGrid) {
		t.Error("expected round-tripped grid to equal original")
	}
	if gotTable.At(1, 1) != 1.0123 {
		t.Errorf("expected 1.0123, got %v", gotTable.At(1, 1))
	}
}

func TestEncodeTableCSV_SignedFormat(t *testing.T) {
	g := testGrid(t)
	tbl := NewTable(g, UnitFactorPct)
	tbl.Set(0, 0, 3.5)
	tbl.Set(0, 1, -2.0)

	data, err := EncodeTableCSV(g, tbl, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, "+3.5000") {
		t.Errorf("expected explicit '+' on positive signed cells, got:\n%s", s)
	}
	if !strings.Contains(s, "-2.0000") {
		t.Errorf("expected negative cell rendered with '-', got:\n%s", s)
	}
}

func TestSanitizeCSVCell_NeutralizesFormulaInjection(t *testing.T) {
	cases := []string{"=cmd|'/bin/sh'", "+1+1", "-1-1", "@SUM(A1:A2)"}
	for _, c := range cases {
		got := sanitizeCSVCell(c)
		if !strings.HasPrefix(got, "'") {
			t.Errorf("expected %q to be quoted to neutralize formula injection, got %q", c, got)
		}
	}
	if got := sanitizeCSVCell("1234"); got != "1234" {
		t.Errorf("expected a plain numeric cell to pass through unchanged, got %q", got)
	}
}

func TestParseTableCSV_RejectsTooFewRows(t *testing.T) {
	if _, _, err := ParseTableCSV([]byte("RPM,20,60\n"), UnitVE); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for a header-only CSV, got %v", err)
	}
}

func TestParseTableCSV_RejectsRaggedRow(t *testing.T) {
	data := []byte("RPM,20,60\n1000,0.8,0.9\n2000,0.8\n")
	if _, _, err := ParseTableCSV(data, UnitVE); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for a ragged row, got %v", err)
	}
}

func TestParseTableCSV_RejectsNonNumericCell(t *testing.T) {
	data := []byte("RPM,20,60\n1000,oops,0.9\n2000,0.8,0.9\n")
	if _, _, err := ParseTableCSV(data, UnitVE); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for a non-numeric cell, got %v", err)
	}
}
