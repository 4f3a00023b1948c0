package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"checkpoint/pkg/store"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Students"

var exportHeader = []interface{}{
	"Record ID", "Student ID", "Name", "Class", "Status",
	"Check-in time", "Check-out time", "Device description", "Photo", "Device photos",
}

// ExportStudents writes the filtered records as an XLSX workbook. Paging on
// the filter is ignored; the export always covers the whole filtered set.
func (a *App) ExportStudents(ctx context.Context, filter store.StudentFilter, w io.Writer) error {
	filter.Page, filter.PageSize = 0, 0
	items, _, err := a.ListStudents(ctx, filter)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return fmt.Errorf("open sheet writer: %w", err)
	}
	if err := sw.SetRow("A1", exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, s := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		checkOut := ""
		if s.CheckOutTime != nil {
			checkOut = s.CheckOutTime.UTC().Format(time.RFC3339)
		}
		row := []interface{}{
			s.RecordID, s.StudentID, s.Name, s.ClassName, string(s.Status),
			s.CheckInTime.UTC().Format(time.RFC3339), checkOut, s.DeviceDescription, s.Photo, strings.Join(s.DevicePhotos, "\n"),
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
