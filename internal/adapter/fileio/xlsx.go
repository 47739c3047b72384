package fileio

import (
	"io"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"

	"github.com/fairyhunter13/querypanda/internal/frame"
)

// SheetName is the worksheet every exported workbook holds its table in.
const SheetName = "data"

func writeXLSX(w io.Writer, df dataframe.DataFrame) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	names := df.Names()
	header := make([]interface{}, len(names))
	for i, n := range names {
		header[i] = n
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return err
	}

	types := df.Types()
	cols := columnCells(df)
	for r := 0; r < df.Nrow(); r++ {
		row := make([]interface{}, len(cols))
		for c := range cols {
			row[c] = xlsxValue(cols[c][r], types[c])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}

// xlsxValue turns cell text into the typed value excelize stores. Numbers stay
// numeric so spreadsheet formulas work on them; missing cells stay blank.
func xlsxValue(s string, t series.Type) interface{} {
	if s == frame.NA {
		return nil
	}
	switch t {
	case series.Int:
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	case series.Float:
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	case series.Bool:
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return s
}

func readXLSX(r io.Reader) (dataframe.DataFrame, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	defer func() { _ = f.Close() }()

	sheet := SheetName
	if idx, err := f.GetSheetIndex(SheetName); err != nil || idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return frame.Empty(), nil
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	return fromRecords(rows)
}
