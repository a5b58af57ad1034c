// Package export writes reports as an XLSX workbook in the same column
// layout as the remote interventions sheet.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/fieldops/report-engine/fieldreport"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the report rows.
const SheetName = "Interventi"

// Extra columns after A-Q.
var extraColumns = []string{"Stato Locale", "Costo Materiali"}

// Write renders reports into a workbook on w.
func Write(w io.Writer, reports []fieldreport.Report, technician string, loc *time.Location) error {
	f, err := Build(reports, technician, loc)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Build renders reports into a new workbook, one row per report stamped
// with its own timestamp in loc. technician fills the user column of drafts
// only; synced reports keep whoever submitted them.
func Build(reports []fieldreport.Report, technician string, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers := append(append([]string{}, fieldreport.SheetColumns...), extraColumns...)
	if err := setRow(f, 1, toAny(headers)); err != nil {
		f.Close()
		return nil, err
	}

	for i, r := range reports {
		var at time.Time
		if r.Timestamp > 0 {
			at = r.Time().In(loc)
		}
		user := ""
		if r.IsDraft() {
			user = technician
		}
		row := fieldreport.FlattenForSheet(r, user, at)
		values := toAny(row.Values())
		total, _ := r.MaterialsTotal().Float64()
		values = append(values, string(r.Status), total)
		if err := setRow(f, i+2, values); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func setRow(f *excelize.File, rowNo int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("set row %d: %w", rowNo, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
