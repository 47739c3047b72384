package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/fairyhunter13/querypanda/internal/domain"
)

// Func names a reduction applied to one column of each group.
type Func string

const (
	Sum    Func = "sum"
	Mean   Func = "mean"
	Min    Func = "min"
	Max    Func = "max"
	Count  Func = "count"
	Median Func = "median"
	Std    Func = "std"
)

var knownFuncs = map[Func]bool{Sum: true, Mean: true, Min: true, Max: true, Count: true, Median: true, Std: true}

// Aggregation is one output column of Aggregate.
type Aggregation struct {
	Column string `json:"column" validate:"required"`
	Func   Func   `json:"func" validate:"required,oneof=sum mean min max count median std"`
}

// OutputName is the column name the aggregation produces.
func (a Aggregation) OutputName() string { return a.Column + "_" + string(a.Func) }

// ParseAggregations parses "col:func,col:func".
func ParseAggregations(s string) ([]Aggregation, error) {
	var out []Aggregation
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		col, fn, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("%w: aggregation %q must be column:func", domain.ErrInvalidArgument, part)
		}
		a := Aggregation{Column: strings.TrimSpace(col), Func: Func(strings.ToLower(strings.TrimSpace(fn)))}
		if !knownFuncs[a.Func] {
			return nil, fmt.Errorf("%w: unknown aggregation function %q", domain.ErrInvalidArgument, fn)
		}
		out = append(out, a)
	}
	return out, nil
}

// Aggregate groups df by the groupBy columns and reduces each aggregation
// column per group. Missing values are ignored by every function. Groups are
// returned sorted by their key columns; without groupBy the whole frame is
// one group and the result has a single row.
func Aggregate(df dataframe.DataFrame, groupBy []string, aggs []Aggregation) (dataframe.DataFrame, error) {
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("op=frame.Aggregate: %w", df.Err)
	}
	if len(aggs) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("op=frame.Aggregate: %w: no aggregations given", domain.ErrInvalidArgument)
	}
	for _, c := range groupBy {
		if !hasColumn(df, c) {
			return dataframe.DataFrame{}, fmt.Errorf("op=frame.Aggregate: %w: unknown group column %q", domain.ErrInvalidArgument, c)
		}
	}
	for _, a := range aggs {
		if !hasColumn(df, a.Column) {
			return dataframe.DataFrame{}, fmt.Errorf("op=frame.Aggregate: %w: unknown column %q", domain.ErrInvalidArgument, a.Column)
		}
		if !knownFuncs[a.Func] {
			return dataframe.DataFrame{}, fmt.Errorf("op=frame.Aggregate: %w: unknown function %q", domain.ErrInvalidArgument, a.Func)
		}
		if a.Func != Count && !numeric(df.Col(a.Column)) {
			return dataframe.DataFrame{}, fmt.Errorf("op=frame.Aggregate: %w: %s needs a numeric column, %q is %s", domain.ErrInvalidArgument, a.Func, a.Column, df.Col(a.Column).Type())
		}
	}

	keyCells := make([][]string, len(groupBy))
	for i, c := range groupBy {
		keyCells[i] = Cells(df.Col(c))
	}
	var order []string
	rowsByKey := map[string][]int{}
	for r := 0; r < df.Nrow(); r++ {
		parts := make([]string, len(groupBy))
		for i := range groupBy {
			parts[i] = keyCells[i][r]
		}
		key := strings.Join(parts, "\x00")
		if _, ok := rowsByKey[key]; !ok {
			order = append(order, key)
		}
		rowsByKey[key] = append(rowsByKey[key], r)
	}
	if len(groupBy) == 0 && len(order) == 0 {
		order = []string{""}
	}

	names := append([]string{}, groupBy...)
	types := make([]series.Type, 0, len(groupBy)+len(aggs))
	for _, c := range groupBy {
		types = append(types, df.Col(c).Type())
	}
	cols := make([][]string, len(groupBy)+len(aggs))
	for _, a := range aggs {
		names = append(names, a.OutputName())
		if a.Func == Count {
			types = append(types, series.Int)
		} else {
			types = append(types, series.Float)
		}
	}

	for _, key := range order {
		rows := rowsByKey[key]
		for i := range groupBy {
			cols[i] = append(cols[i], keyCells[i][rows[0]])
		}
		for j, a := range aggs {
			cols[len(groupBy)+j] = append(cols[len(groupBy)+j], reduce(df.Col(a.Column), rows, a.Func))
		}
	}

	out, err := FromColumns(names, types, cols)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if len(groupBy) > 0 && out.Nrow() > 1 {
		orders := make([]dataframe.Order, len(groupBy))
		for i, c := range groupBy {
			orders[i] = dataframe.Sort(c)
		}
		out = out.Arrange(orders...)
		if out.Err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("op=frame.Aggregate: %w", out.Err)
		}
	}
	return out, nil
}

func numeric(s series.Series) bool {
	return s.Type() == series.Int || s.Type() == series.Float
}

// reduce applies fn to the non-missing cells of s at rows using gota's
// series reductions.
func reduce(s series.Series, rows []int, fn Func) string {
	present := make([]int, 0, len(rows))
	for _, r := range rows {
		if !s.Elem(r).IsNA() {
			present = append(present, r)
		}
	}
	if fn == Count {
		return strconv.Itoa(len(present))
	}
	if len(present) == 0 {
		if fn == Sum {
			return "0"
		}
		return NA
	}
	vals := s.Subset(present)
	switch fn {
	case Sum:
		return formatFloat(vals.Sum())
	case Mean:
		return formatFloat(vals.Mean())
	case Min:
		return formatFloat(vals.Min())
	case Max:
		return formatFloat(vals.Max())
	case Median:
		return formatFloat(vals.Median())
	case Std:
		if vals.Len() < 2 {
			return NA
		}
		return formatFloat(vals.StdDev())
	}
	return NA
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return NA
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
