package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"olhovivo/mapview"
	"olhovivo/models"
)

const sheetName = "Denuncias"

var headers = []string{"ID", "Data", "Status", "Descrição", "Latitude", "Longitude", "Foto"}

// WriteReports writes one spreadsheet row per report to w, in the order
// given. Dates are shown in loc.
func WriteReports(w io.Writer, reports []models.PublicReport, loc *time.Location) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheetName, "A1", "G1", bold); err != nil {
		return err
	}

	for i, r := range reports {
		status := r.Status
		if status == "" {
			status = models.StatusPending
		}
		row := []interface{}{
			r.ID,
			mapview.FormatDate(r.CreatedAt, loc),
			status,
			r.Description,
			mapview.Round(r.Latitude),
			mapview.Round(r.Longitude),
			r.PhotoURL,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheetName, "D", "D", 60); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "G", "G", 50); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}
