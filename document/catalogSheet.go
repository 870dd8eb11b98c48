package document

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Catalog workbook layout. The first row of each sheet is a header.
//
//	Products:  ID | Category | Description | Price | Availability
//	PreBuilds: ID | Category | Description | Price | CPU | GPU | RAM | Storage | PSU | Casing
const (
	ProductSheet  = "Products"
	PreBuildSheet = "PreBuilds"
)

// Catalog holds the rows read from a catalog workbook.
type Catalog struct {
	Products  []models.Product
	PreBuilds []models.PreBuild
}

// ReadCatalog parses a catalog workbook. A missing sheet is treated as empty;
// a malformed row fails the whole read with its sheet and row number.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open catalog workbook: %w", err)
	}
	defer f.Close()

	out := &Catalog{}
	rows, err := sheetRows(f, ProductSheet)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		id, price, err := idAndPrice(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", ProductSheet, i+2, err)
		}
		out.Products = append(out.Products, models.Product{
			ID:           id,
			Category:     cell(row, 1),
			Description:  cell(row, 2),
			Price:        price,
			Availability: cell(row, 4),
		})
	}

	rows, err = sheetRows(f, PreBuildSheet)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		id, price, err := idAndPrice(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", PreBuildSheet, i+2, err)
		}
		category := models.PreBuildCategory(cell(row, 1))
		if category != models.PreBuildCategoryGaming && category != models.PreBuildCategoryBudget {
			return nil, fmt.Errorf("%s row %d: unknown category %q", PreBuildSheet, i+2, category)
		}
		out.PreBuilds = append(out.PreBuilds, models.PreBuild{
			ID:          id,
			Category:    category,
			Description: cell(row, 2),
			Price:       price,
			Cpu:         cell(row, 4),
			Gpu:         cell(row, 5),
			Ram:         cell(row, 6),
			Storage:     cell(row, 7),
			Psu:         cell(row, 8),
			Casing:      cell(row, 9),
		})
	}
	return out, nil
}

// sheetRows returns the non-blank data rows of sheet, header excluded.
func sheetRows(f *excelize.File, sheet string) ([][]string, error) {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	var out [][]string
	for i, row := range rows {
		if i == 0 || strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func idAndPrice(row []string) (int, decimal.Decimal, error) {
	id, err := strconv.Atoi(cell(row, 0))
	if err != nil || id <= 0 {
		return 0, decimal.Zero, fmt.Errorf("invalid id %q", cell(row, 0))
	}
	price, err := decimal.NewFromString(cell(row, 3))
	if err != nil || price.IsNegative() {
		return 0, decimal.Zero, fmt.Errorf("invalid price %q", cell(row, 3))
	}
	return id, price, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
