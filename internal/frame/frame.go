// Package frame builds and combines gota dataframes, the in-memory table type
// every query result is materialized into.
package frame

import (
	"fmt"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// NA is the cell text gota reads as a missing value for every column type.
const NA = "NaN"

// Empty returns a frame with no columns and no rows.
func Empty() dataframe.DataFrame {
	return dataframe.DataFrame{}
}

// IsEmpty reports whether df carries no rows.
func IsEmpty(df dataframe.DataFrame) bool {
	return df.Ncol() == 0 || df.Nrow() == 0
}

// FromColumns builds a frame from column-major cell text. Cells equal to NA
// become missing values.
func FromColumns(names []string, types []series.Type, cols [][]string) (dataframe.DataFrame, error) {
	if len(names) != len(types) || len(names) != len(cols) {
		return dataframe.DataFrame{}, fmt.Errorf("op=frame.FromColumns: %d names, %d types, %d columns", len(names), len(types), len(cols))
	}
	if len(names) == 0 {
		return Empty(), nil
	}
	ss := make([]series.Series, len(names))
	for i, name := range names {
		if i > 0 && len(cols[i]) != len(cols[0]) {
			return dataframe.DataFrame{}, fmt.Errorf("op=frame.FromColumns: column %q has %d rows, want %d", name, len(cols[i]), len(cols[0]))
		}
		ss[i] = series.New(cols[i], types[i], name)
	}
	df := dataframe.New(ss...)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("op=frame.FromColumns: %w", df.Err)
	}
	return df, nil
}

// Cells returns the column's values as text with missing values rendered as NA.
// Floats use the shortest representation that parses back to the same value.
func Cells(s series.Series) []string {
	out := make([]string, s.Len())
	isFloat := s.Type() == series.Float
	for i := range out {
		e := s.Elem(i)
		switch {
		case e.IsNA():
			out[i] = NA
		case isFloat:
			out[i] = strconv.FormatFloat(e.Float(), 'f', -1, 64)
		default:
			out[i] = e.String()
		}
	}
	return out
}

// Concat stacks frames vertically. Columns are the union of all inputs in
// first-seen order; cells a frame lacks are missing. Frames without rows are
// skipped. A column whose type differs between frames is widened: Int and
// Float become Float, any other mix becomes String.
func Concat(frames ...dataframe.DataFrame) (dataframe.DataFrame, error) {
	var names []string
	types := map[string]series.Type{}
	var parts []dataframe.DataFrame
	total := 0
	for _, df := range frames {
		if df.Err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("op=frame.Concat: %w", df.Err)
		}
		if IsEmpty(df) {
			continue
		}
		parts = append(parts, df)
		total += df.Nrow()
		dfTypes := df.Types()
		for i, n := range df.Names() {
			prev, ok := types[n]
			if !ok {
				types[n] = dfTypes[i]
				names = append(names, n)
				continue
			}
			types[n] = widen(prev, dfTypes[i])
		}
	}
	if len(parts) == 0 {
		return Empty(), nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	cols := make([][]string, len(names))
	colTypes := make([]series.Type, len(names))
	for i, n := range names {
		colTypes[i] = types[n]
		col := make([]string, 0, total)
		for _, df := range parts {
			if hasColumn(df, n) {
				col = append(col, Cells(df.Col(n))...)
				continue
			}
			for r := 0; r < df.Nrow(); r++ {
				col = append(col, NA)
			}
		}
		cols[i] = col
	}
	return FromColumns(names, colTypes, cols)
}

func widen(a, b series.Type) series.Type {
	switch {
	case a == b:
		return a
	case (a == series.Int || a == series.Float) && (b == series.Int || b == series.Float):
		return series.Float
	}
	return series.String
}

func hasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}
