package document

import (
	"bytes"
	"fmt"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Renderer turns an invoice into a document attachment.
type Renderer interface {
	Render(inv *models.Invoice) ([]byte, error)
	ContentType() string
	Extension() string
}

const (
	invoiceSheet    = "Invoice"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExcelRenderer renders invoices as a single-sheet XLSX workbook.
type ExcelRenderer struct {
	CompanyName string
}

func NewExcelRenderer() *ExcelRenderer {
	return &ExcelRenderer{CompanyName: "Alpha IT Solutions"}
}

func (r *ExcelRenderer) ContentType() string { return xlsxContentType }

func (r *ExcelRenderer) Extension() string { return "xlsx" }

func (r *ExcelRenderer) Render(inv *models.Invoice) ([]byte, error) {
	if inv == nil {
		return nil, fmt.Errorf("render invoice: nil invoice")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoiceSheet); err != nil {
		return nil, err
	}

	header := [][]interface{}{
		{r.CompanyName},
		{"Invoice No", inv.ID},
		{"Date", inv.Date.Format("2006-01-02")},
		{"Customer", inv.CustomerName},
		{"Status", string(inv.Status)},
		{},
		{"Item", "Unit Price", "Quantity", "Amount"},
	}
	row := 1
	for _, values := range header {
		if err := setRow(f, row, values); err != nil {
			return nil, err
		}
		row++
	}

	for _, item := range inv.Items {
		amount := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		values := []interface{}{item.Name, item.Price.StringFixed(2), item.Quantity, amount.StringFixed(2)}
		if err := setRow(f, row, values); err != nil {
			return nil, err
		}
		row++
	}

	row++
	if err := setRow(f, row, []interface{}{"Total", nil, nil, inv.TotalAmount.StringFixed(2)}); err != nil {
		return nil, err
	}

	if err := f.SetColWidth(invoiceSheet, "A", "A", 48); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write invoice workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, row int, values []interface{}) error {
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(invoiceSheet, cell, &values)
}

// FileName is the object name an invoice document is stored under.
func FileName(invoiceId int, ext string) string {
	return fmt.Sprintf("invoices/invoice-%d.%s", invoiceId, ext)
}
