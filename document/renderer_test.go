package document

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleInvoice() *models.Invoice {
	return &models.Invoice{
		ID:           42,
		CustomerName: "Kasun",
		TotalAmount:  decimal.NewFromInt(170000),
		Status:       models.InvoiceStatusPaid,
		Date:         time.Date(2026, time.May, 2, 9, 0, 0, 0, time.UTC),
		Items: []models.InvoiceItem{
			{Name: "ram - 16GB DDR5", Price: decimal.NewFromInt(10000), Quantity: 2},
			{Name: "Gaming - RTX build", Price: decimal.NewFromInt(150000), Quantity: 1},
		},
	}
}

func TestExcelRenderer_Render(t *testing.T) {
	r := NewExcelRenderer()

	data, err := r.Render(sampleInvoice())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(invoiceSheet)
	require.NoError(t, err)

	assert.Equal(t, "Alpha IT Solutions", rows[0][0])
	assert.Equal(t, []string{"Invoice No", "42"}, rows[1])
	assert.Equal(t, []string{"Customer", "Kasun"}, rows[3])
	assert.Equal(t, []string{"ram - 16GB DDR5", "10000.00", "2", "20000.00"}, rows[7])
	assert.Equal(t, []string{"Gaming - RTX build", "150000.00", "1", "150000.00"}, rows[8])

	last := rows[len(rows)-1]
	assert.Equal(t, "Total", last[0])
	assert.Equal(t, "170000.00", last[len(last)-1])
}

func TestExcelRenderer_NilInvoice(t *testing.T) {
	_, err := NewExcelRenderer().Render(nil)
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "invoices/invoice-7.xlsx", FileName(7, "xlsx"))
}

func TestLocalStore_Put(t *testing.T) {
	dir := t.TempDir()
	s := &LocalStore{Dir: dir}

	loc, err := s.Put(context.Background(), FileName(3, "xlsx"), []byte("hello"), xlsxContentType)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "invoices", "invoice-3.xlsx"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestLocalStore_PathStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s := &LocalStore{Dir: dir}

	loc, err := s.Put(context.Background(), "../../escape.txt", []byte("x"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "escape.txt"), loc)
}
