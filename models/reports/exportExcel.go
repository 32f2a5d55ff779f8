package reports

import (
	"context"
	"fmt"
	"io"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/xuri/excelize/v2"
)

// ExportRunDiscrepanciesXlsx streams the discrepancies of one run as an
// xlsx workbook, one row per discrepancy in record key order.
func ExportRunDiscrepanciesXlsx(ctx context.Context, runDbId int, w io.Writer) error {

	run, err := models.GetRun(ctx, runDbId)
	if err != nil {
		return err
	}
	data, err := models.ListRunDiscrepancies(ctx, run.ID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheetName := "Discrepancies"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// Add headers
	f.SetCellValue(sheetName, "A1", "Code")
	f.SetCellValue(sheetName, "B1", "RunId")
	f.SetCellValue(sheetName, "C1", "RecordKey")
	f.SetCellValue(sheetName, "D1", "Type")
	f.SetCellValue(sheetName, "E1", "Severity")
	f.SetCellValue(sheetName, "F1", "Status")
	f.SetCellValue(sheetName, "G1", "Fields")

	// Add data
	for i, d := range data {
		fields := ""
		for _, fd := range d.FieldDetails {
			if fields != "" {
				fields += "; "
			}
			fields += fmt.Sprintf("%s: %s <> %s",
				fd.Field,
				utils.DereferencePtr(fd.SourceValue, "NULL"),
				utils.DereferencePtr(fd.TargetValue, "NULL"))
		}
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheetName, "A"+row, d.Code)
		f.SetCellValue(sheetName, "B"+row, d.RunId)
		f.SetCellValue(sheetName, "C"+row, d.RecordKey)
		f.SetCellValue(sheetName, "D"+row, string(d.Type))
		f.SetCellValue(sheetName, "E"+row, string(d.Severity))
		f.SetCellValue(sheetName, "F"+row, string(d.Status))
		f.SetCellValue(sheetName, "G"+row, fields)
	}

	return f.Write(w)
}
