package usecase

import "testing"

func TestFormatBRL(t *testing.T) {
	cases := map[float64]string{
		1234.56: "R$ 1.234,56",
		0:       "R$ 0,00",
		-87.5:   "-R$ 87,50",
		1000000: "R$ 1.000.000,00",
	}
	for in, want := range cases {
		if got := FormatBRL(in); got != want {
			t.Fatalf("FormatBRL(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatPercentAndArrow(t *testing.T) {
	if got := FormatPercent(12.34); got != "12,3%" {
		t.Fatalf("FormatPercent() = %q", got)
	}
	if got := TrendArrow(11.5); got != "📈 +11,5%" {
		t.Fatalf("TrendArrow(up) = %q", got)
	}
	if got := TrendArrow(-7.7); got != "📉 -7,7%" {
		t.Fatalf("TrendArrow(down) = %q", got)
	}
	if got := TrendArrow(0); got != "➡️ 0%" {
		t.Fatalf("TrendArrow(flat) = %q", got)
	}
}

func TestMonthName(t *testing.T) {
	if MonthName(3) != "Março" || MonthName(13) != "" {
		t.Fatalf("unexpected month names")
	}
}
