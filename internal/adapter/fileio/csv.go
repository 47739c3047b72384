package fileio

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/fairyhunter13/querypanda/internal/frame"
)

// naValues are the cell texts read back as missing values.
var naValues = []string{"", "NA", "NaN", "<nil>", "null"}

func writeCSV(w io.Writer, df dataframe.DataFrame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(df.Names()); err != nil {
		return err
	}
	cols := columnCells(df)
	row := make([]string, len(cols))
	for r := 0; r < df.Nrow(); r++ {
		for c := range cols {
			row[c] = blankNA(cols[c][r])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readCSV(r io.Reader) (dataframe.DataFrame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	return fromRecords(records)
}

// fromRecords builds a frame from a header row followed by data rows,
// detecting column types. Short rows are padded with missing cells.
func fromRecords(records [][]string) (dataframe.DataFrame, error) {
	if len(records) == 0 || len(records[0]) == 0 {
		return frame.Empty(), nil
	}
	header := records[0]
	if len(records) == 1 {
		types := make([]series.Type, len(header))
		cols := make([][]string, len(header))
		for i := range header {
			types[i] = series.String
			cols[i] = []string{}
		}
		return frame.FromColumns(header, types, cols)
	}
	for i := 1; i < len(records); i++ {
		switch n := len(records[i]); {
		case n < len(header):
			padded := make([]string, len(header))
			copy(padded, records[i])
			records[i] = padded
		case n > len(header):
			return dataframe.DataFrame{}, fmt.Errorf("row %d has %d fields, header has %d", i, n, len(header))
		}
	}
	df := dataframe.LoadRecords(records, dataframe.NaNValues(naValues))
	if df.Err != nil {
		return dataframe.DataFrame{}, df.Err
	}
	return df, nil
}

func columnCells(df dataframe.DataFrame) [][]string {
	names := df.Names()
	cols := make([][]string, len(names))
	for i, n := range names {
		cols[i] = frame.Cells(df.Col(n))
	}
	return cols
}

func blankNA(s string) string {
	if s == frame.NA {
		return ""
	}
	return s
}
