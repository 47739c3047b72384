package fileio

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/fairyhunter13/querypanda/internal/frame"
)

// writeJSONL writes one object per row, keys in column order.
func writeJSONL(w io.Writer, df dataframe.DataFrame) error {
	bw := bufio.NewWriter(w)
	names := df.Names()
	keys := make([][]byte, len(names))
	for i, n := range names {
		k, err := json.Marshal(n)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	types := df.Types()
	cols := columnCells(df)
	var line bytes.Buffer
	for r := 0; r < df.Nrow(); r++ {
		line.Reset()
		line.WriteByte('{')
		for c := range cols {
			if c > 0 {
				line.WriteByte(',')
			}
			line.Write(keys[c])
			line.WriteByte(':')
			v, err := json.Marshal(jsonValue(cols[c][r], types[c]))
			if err != nil {
				return err
			}
			line.Write(v)
		}
		line.WriteString("}\n")
		if _, err := bw.Write(line.Bytes()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func jsonValue(s string, t series.Type) any {
	if s == frame.NA {
		return nil
	}
	switch t {
	case series.Int:
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	case series.Float:
		if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(v, 0) {
			return v
		}
	case series.Bool:
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return s
}

// readJSONL reads newline-delimited objects. Columns are the union of keys in
// first-seen order.
func readJSONL(r io.Reader) (dataframe.DataFrame, error) {
	dec := json.NewDecoder(r)
	var header []string
	index := map[string]int{}
	var rows []map[int]string
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == io.EOF {
			break
		} else if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("record %d: %w", n, err)
		}
		row := map[int]string{}
		err := eachField(raw, func(key string, val json.RawMessage) error {
			i, ok := index[key]
			if !ok {
				i = len(header)
				index[key] = i
				header = append(header, key)
			}
			text, err := cellText(val)
			row[i] = text
			return err
		})
		if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("record %d: %w", n, err)
		}
		rows = append(rows, row)
	}

	records := make([][]string, 0, len(rows)+1)
	records = append(records, header)
	for _, row := range rows {
		rec := make([]string, len(header))
		for i, v := range row {
			rec[i] = v
		}
		records = append(records, rec)
	}
	return fromRecords(records)
}

// eachField walks the members of a JSON object in document order.
func eachField(obj json.RawMessage, fn func(key string, val json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(obj))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected key, got %v", tok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}

// cellText renders a JSON value as frame cell text. Nested values keep their
// JSON encoding.
func cellText(val json.RawMessage) (string, error) {
	val = bytes.TrimSpace(val)
	switch {
	case len(val) == 0 || bytes.Equal(val, []byte("null")):
		return "", nil
	case val[0] == '"':
		var s string
		err := json.Unmarshal(val, &s)
		return s, err
	default:
		return string(val), nil
	}
}
