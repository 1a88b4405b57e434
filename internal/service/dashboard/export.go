package dashboard

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/jwalitptl/econsult/internal/model"
	apperrors "github.com/jwalitptl/econsult/pkg/errors"
)

const exportSheet = "Consults"

// ExportHeader is the first row of the exported workbook.
var ExportHeader = []string{
	"Consult ID",
	"Patient Initials",
	"Patient Age",
	"Condition",
	"Status",
	"Submitted At",
	"Clinical Question",
}

var exportColumnWidths = []float64{38, 16, 12, 14, 16, 20, 60}

// Export renders every record of owner, newest first, as an XLSX workbook.
func (s *Service) Export(ctx context.Context, owner model.Owner) ([]byte, error) {
	records, err := s.repo.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, apperrors.Unavailable("failed to load consults", err)
	}
	SortByRecency(records, model.SortNewest)

	data, err := renderWorkbook(records)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return data, nil
}

func renderWorkbook(records []*model.Consult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(exportSheet, name, name, exportColumnWidths[col]); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := []interface{}{
			r.ID.String(),
			r.PatientInitials,
			r.PatientAge,
			string(r.ConditionCategory),
			string(r.Status),
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			r.ClinicalQuestion,
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
