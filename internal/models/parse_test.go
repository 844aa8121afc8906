package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input     string
		expected  string
		wantError bool
	}{
		{"100.50", "100.5", false},
		{"1,250.00", "1250", false},
		{"$99", "99", false},
		{"-42.10", "-42.1", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if (err != nil) != tt.wantError {
				t.Fatalf("ParseDecimalFromString() error = %v, wantError %v", err, tt.wantError)
			}
			if !tt.wantError && !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("ParseDecimalFromString() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		input     string
		expected  TransactionType
		wantError bool
	}{
		{"debit", TransactionTypeDebit, false},
		{" CR ", TransactionTypeCredit, false},
		{"d", TransactionTypeDebit, false},
		{"transfer", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTransactionType(tt.input)
			if (err != nil) != tt.wantError {
				t.Fatalf("ParseTransactionType() error = %v, wantError %v", err, tt.wantError)
			}
			if got != tt.expected {
				t.Errorf("ParseTransactionType() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	want := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	for _, input := range []string{"2025-01-31", "01/31/2025", "2025/01/31", "Jan 31, 2025"} {
		got, err := ParseTimeWithFormats(input)
		if err != nil {
			t.Errorf("ParseTimeWithFormats(%q) error = %v", input, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimeWithFormats(%q) = %v, want %v", input, got, want)
		}
	}

	if _, err := ParseTimeWithFormats("31st of January"); err == nil {
		t.Errorf("expected error for unparseable date")
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	tests := map[string]string{
		"INV-2025-001": "2025-001",
		" inv 2025-001": "2025-001",
		"ref#77":        "77",
		"ABC-1":         "ABC-1",
		"":              "",
	}
	for input, want := range tests {
		if got := NormalizeIdentifier(input); got != want {
			t.Errorf("NormalizeIdentifier(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeCurrency(t *testing.T) {
	if got, err := NormalizeCurrency(" sar "); err != nil || got != "SAR" {
		t.Errorf("NormalizeCurrency() = %q, %v", got, err)
	}
	for _, bad := range []string{"", "SA", "SARR", "S4R"} {
		if _, err := NormalizeCurrency(bad); err == nil {
			t.Errorf("NormalizeCurrency(%q) should fail", bad)
		}
	}
}

func TestCompareDatesWithTolerance(t *testing.T) {
	base := time.Date(2025, 1, 10, 23, 0, 0, 0, time.UTC)
	tests := []struct {
		other     time.Time
		tolerance int
		want      bool
	}{
		{time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC), 0, true},
		{time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC), 2, true},
		{time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC), 2, false},
		{time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), 2, true},
	}
	for _, tt := range tests {
		if got := CompareDatesWithTolerance(base, tt.other, tt.tolerance); got != tt.want {
			t.Errorf("CompareDatesWithTolerance(%v, %v, %d) = %v, want %v", base, tt.other, tt.tolerance, got, tt.want)
		}
	}
}

func TestWithinPeriod(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	if !WithinPeriod(time.Date(2025, 1, 31, 18, 0, 0, 0, time.UTC), start, end) {
		t.Errorf("last day of period should be included")
	}
	if WithinPeriod(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), start, end) {
		t.Errorf("day after period should be excluded")
	}
}
