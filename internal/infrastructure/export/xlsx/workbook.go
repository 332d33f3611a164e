package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/frepi-finance/internal/core/domain"
)

const (
	sheetSummary   = "Resumo"
	sheetSuppliers = "Fornecedores"
	sheetCategory  = "Categorias"
	sheetInsights  = "Insights"

	moneyFormat   = `"R$" #,##0.00`
	percentFormat = `0.0"%"`
)

var statusLabels = map[string]string{
	domain.CMVStatusOnTarget:    "Dentro da meta",
	domain.CMVStatusAboveTarget: "Acima da meta",
	domain.CMVStatusCritical:    "Crítico",
}

// WorkbookWriter renders monthly closure reports as XLSX workbooks.
type WorkbookWriter struct{}

func NewWorkbookWriter() *WorkbookWriter {
	return &WorkbookWriter{}
}

type styles struct {
	header  int
	money   int
	percent int
}

func (WorkbookWriter) WriteMonthlyReport(w io.Writer, report domain.MonthlyReport) error {
	f := excelize.NewFile()
	defer f.Close()

	st, err := newStyles(f)
	if err != nil {
		return err
	}
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	if err := writeSummary(f, st, report); err != nil {
		return err
	}
	if err := writeSuppliers(f, st, report.Suppliers); err != nil {
		return err
	}
	if len(report.Categories) > 0 {
		if err := writeCategories(f, st, report.Categories); err != nil {
			return err
		}
	}
	if len(report.Insights) > 0 {
		if err := writeInsights(f, st, report.Insights); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func newStyles(f *excelize.File) (styles, error) {
	var st styles
	var err error
	if st.header, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F4E78"}},
	}); err != nil {
		return styles{}, fmt.Errorf("create header style: %w", err)
	}
	money := moneyFormat
	if st.money, err = f.NewStyle(&excelize.Style{CustomNumFmt: &money}); err != nil {
		return styles{}, fmt.Errorf("create money style: %w", err)
	}
	percent := percentFormat
	if st.percent, err = f.NewStyle(&excelize.Style{CustomNumFmt: &percent}); err != nil {
		return styles{}, fmt.Errorf("create percent style: %w", err)
	}
	return st, nil
}

func writeSummary(f *excelize.File, st styles, report domain.MonthlyReport) error {
	title := "Fechamento " + report.Period()
	if report.RestaurantName != "" {
		title += " - " + report.RestaurantName
	}
	status := statusLabels[report.Status]
	if status == "" {
		status = report.Status
	}

	rows := []struct {
		label string
		value any
		style int
	}{
		{"Faturamento", report.Revenue, st.money},
		{"Compras", report.Purchases, st.money},
		{"CMV", report.CMVPercent, st.percent},
		{"Meta de CMV", report.CMVTarget, st.percent},
		{"Situação", status, 0},
		{"Notas fiscais", report.InvoiceCount, 0},
	}
	if report.MoMChange != nil {
		rows = append(rows, struct {
			label string
			value any
			style int
		}{"Variação de compras vs. mês anterior", *report.MoMChange, st.percent})
	}

	if err := f.SetCellValue(sheetSummary, "A1", title); err != nil {
		return fmt.Errorf("write title: %w", err)
	}
	if err := f.SetCellStyle(sheetSummary, "A1", "B1", st.header); err != nil {
		return fmt.Errorf("style title: %w", err)
	}
	for i, row := range rows {
		r := i + 2
		if err := f.SetSheetRow(sheetSummary, cell(1, r), &[]any{row.label, row.value}); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
		if row.style != 0 {
			if err := f.SetCellStyle(sheetSummary, cell(2, r), cell(2, r), row.style); err != nil {
				return fmt.Errorf("style summary row: %w", err)
			}
		}
	}
	return f.SetColWidth(sheetSummary, "A", "B", 36)
}

func writeSuppliers(f *excelize.File, st styles, suppliers []domain.SupplierSpend) error {
	if _, err := f.NewSheet(sheetSuppliers); err != nil {
		return fmt.Errorf("create suppliers sheet: %w", err)
	}
	if err := writeHeader(f, st, sheetSuppliers, "Fornecedor", "Total", "% das compras", "Notas"); err != nil {
		return err
	}
	for i, s := range suppliers {
		r := i + 2
		if err := f.SetSheetRow(sheetSuppliers, cell(1, r), &[]any{s.Name, s.Total, s.Percent, s.Count}); err != nil {
			return fmt.Errorf("write supplier row: %w", err)
		}
		if err := f.SetCellStyle(sheetSuppliers, cell(2, r), cell(2, r), st.money); err != nil {
			return fmt.Errorf("style supplier row: %w", err)
		}
		if err := f.SetCellStyle(sheetSuppliers, cell(3, r), cell(3, r), st.percent); err != nil {
			return fmt.Errorf("style supplier row: %w", err)
		}
	}
	return f.SetColWidth(sheetSuppliers, "A", "A", 40)
}

func writeCategories(f *excelize.File, st styles, categories []domain.CategorySpend) error {
	if _, err := f.NewSheet(sheetCategory); err != nil {
		return fmt.Errorf("create categories sheet: %w", err)
	}
	if err := writeHeader(f, st, sheetCategory, "Categoria", "Total"); err != nil {
		return err
	}
	for i, c := range categories {
		r := i + 2
		if err := f.SetSheetRow(sheetCategory, cell(1, r), &[]any{c.Name, c.Total}); err != nil {
			return fmt.Errorf("write category row: %w", err)
		}
		if err := f.SetCellStyle(sheetCategory, cell(2, r), cell(2, r), st.money); err != nil {
			return fmt.Errorf("style category row: %w", err)
		}
	}
	return f.SetColWidth(sheetCategory, "A", "A", 30)
}

func writeInsights(f *excelize.File, st styles, insights []string) error {
	if _, err := f.NewSheet(sheetInsights); err != nil {
		return fmt.Errorf("create insights sheet: %w", err)
	}
	if err := writeHeader(f, st, sheetInsights, "Insight"); err != nil {
		return err
	}
	for i, insight := range insights {
		if err := f.SetCellValue(sheetInsights, cell(1, i+2), insight); err != nil {
			return fmt.Errorf("write insight: %w", err)
		}
	}
	return f.SetColWidth(sheetInsights, "A", "A", 90)
}

func writeHeader(f *excelize.File, st styles, sheet string, titles ...string) error {
	values := make([]any, len(titles))
	for i, t := range titles {
		values[i] = t
	}
	if err := f.SetSheetRow(sheet, "A1", &values); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	if err := f.SetCellStyle(sheet, "A1", cell(len(titles), 1), st.header); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
