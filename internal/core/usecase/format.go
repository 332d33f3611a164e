package usecase

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var brPrinter = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders an amount as "R$ 1.234,56" ("-R$ ..." when negative).
func FormatBRL(value float64) string {
	formatted := brPrinter.Sprint(number.Decimal(math.Abs(value), number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	if value < 0 {
		return "-R$ " + formatted
	}
	return "R$ " + formatted
}

// FormatPercent renders a percentage with one decimal and a comma, e.g. "12,3%".
func FormatPercent(value float64) string {
	return brPrinter.Sprint(number.Decimal(value, number.MinFractionDigits(1), number.MaxFractionDigits(1))) + "%"
}

// TrendArrow renders a price change with its direction emoji.
func TrendArrow(changePercent float64) string {
	switch {
	case changePercent > 0:
		return "📈 +" + FormatPercent(changePercent)
	case changePercent < 0:
		return "📉 " + FormatPercent(changePercent)
	default:
		return "➡️ 0%"
	}
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

func changePercent(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

var monthNames = [...]string{
	"", "Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// MonthName returns the Portuguese month name for 1..12.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month]
}
