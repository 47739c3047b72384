package fileio

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

var parquetNameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_]`)

// writeParquet writes df as a single snappy-compressed row group set. Every
// column is OPTIONAL so missing cells survive as nulls.
func writeParquet(w io.Writer, df dataframe.DataFrame) error {
	names := parquetNames(df.Names())
	types := df.Types()
	// hide any Close method so the caller keeps ownership of w
	pfw := writerfile.NewWriterFile(struct{ io.Writer }{w})
	pw, err := writer.NewJSONWriter(parquetSchema(names, types), pfw, 4)
	if err != nil {
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	cols := columnCells(df)
	for r := 0; r < df.Nrow(); r++ {
		row := make(map[string]any, len(cols))
		for c := range cols {
			row[names[c]] = jsonValue(cols[c][r], types[c])
		}
		b, err := json.Marshal(row)
		if err != nil {
			_ = pw.WriteStop()
			return err
		}
		if err := pw.Write(string(b)); err != nil {
			_ = pw.WriteStop()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return err
	}
	return pfw.Close()
}

func parquetSchema(names []string, types []series.Type) string {
	fields := make([]map[string]string, len(names))
	for i, n := range names {
		fields[i] = map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", n, parquetType(types[i])),
		}
	}
	b, _ := json.Marshal(map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})
	return string(b)
}

func parquetType(t series.Type) string {
	switch t {
	case series.Int:
		return "type=INT64"
	case series.Float:
		return "type=DOUBLE"
	case series.Bool:
		return "type=BOOLEAN"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

// parquetNames makes column names usable in a parquet-go schema tag, which
// cannot carry commas, spaces or '='. Clashes after rewriting get a suffix.
func parquetNames(in []string) []string {
	out := make([]string, len(in))
	seen := map[string]bool{}
	for i, n := range in {
		name := parquetNameUnsafe.ReplaceAllString(n, "_")
		if name == "" {
			name = "column_" + strconv.Itoa(i)
		}
		base := name
		for k := 1; seen[name]; k++ {
			name = base + "_" + strconv.Itoa(k)
		}
		seen[name] = true
		out[i] = name
	}
	return out
}
