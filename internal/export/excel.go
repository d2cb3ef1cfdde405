// Package export renders bookings as Excel workbooks for staff.
package export

import (
	"bytes"
	"fmt"
	"io"

	"movingmen/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Upcoming"

var columnWidths = []float64{10, 22, 16, 32, 32, 12, 10, 10, 20, 32, 28}

// WriteBookings writes bookings to w as a single-sheet workbook with the
// same columns as the bookings sheet.
func WriteBookings(w io.Writer, bookings []models.Booking) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for i, col := range models.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return err
		}
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err == nil {
		endCell, _ := excelize.CoordinatesToCellName(len(models.Columns), 1)
		_ = f.SetCellStyle(sheetName, "A1", endCell, style)
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return err
		}
	}

	for r := range bookings {
		for c, val := range bookings[r].RowValues() {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, val); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	return f.Write(w)
}

// BookingsFile returns the workbook as bytes, ready to upload.
func BookingsFile(bookings []models.Booking) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteBookings(&buf, bookings); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
