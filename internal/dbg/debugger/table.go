package debugger

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"gni.dev/sdb/internal/coroutine"
	"gni.dev/sdb/internal/dbg"
)

const (
	argMaxLength  = 8
	cellMaxLength = 512
)

// Cell is one column of a table row.
type Cell struct {
	Key   string
	Value any
}

type Row []Cell

func (r Row) Get(key string) (any, bool) {
	for _, c := range r {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

func (r Row) Set(key string, value any) Row {
	for i := range r {
		if r[i].Key == key {
			r[i].Value = value
			return r
		}
	}
	return append(r, Cell{key, value})
}

// FormatTable renders rows as a bordered text table. Columns appear in the
// order they are first seen.
func FormatTable(rows []Row) string {
	if len(rows) == 0 {
		return "No more content"
	}

	var columns []string
	widths := map[string]int{}
	for _, row := range rows {
		for _, c := range row {
			if _, ok := widths[c.Key]; !ok {
				columns = append(columns, c.Key)
			}
			widths[c.Key] = max(widths[c.Key], maxLineLength(c.Key), maxLineLength(valueString(c.Value, false)))
		}
	}

	width := len(columns)*3 + 1
	for _, w := range widths {
		width += w
	}
	split := strings.Repeat("-", width)

	var sb strings.Builder
	sb.WriteString(split + "\n|")
	for _, col := range columns {
		fmt.Fprintf(&sb, " %-*s |", widths[col], col)
	}
	sb.WriteString("\n" + strings.Repeat("=", width) + "\n")
	for _, row := range rows {
		sb.WriteString("|")
		for _, col := range columns {
			value := ""
			if v, ok := row.Get(col); ok {
				value = valueString(v, false)
			}
			fmt.Fprintf(&sb, " %-*s |", widths[col], value)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(split)
	return sb.String()
}

func maxLineLength(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		n = max(n, utf8.RuneCountInString(line))
	}
	return n
}

func valueString(v any, forArgs bool) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case string:
		limit := cellMaxLength
		if forArgs {
			limit = argMaxLength
		}
		if utf8.RuneCountInString(val) > limit {
			val = string([]rune(val)[:limit]) + "..."
		}
		if forArgs {
			val = "'" + val + "'"
		}
		return val
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(val)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		if rv.Len() == 0 {
			return "[]"
		}
		return "[...]"
	}
	return fmt.Sprintf("%T{}", v)
}

// executingString renders a frame as Class::Function(args).
func executingString(f coroutine.Frame) string {
	if f.Function == "" {
		return "Unknown"
	}
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = valueString(a, true)
	}
	delimiter := ""
	if f.Class != "" {
		delimiter = "::"
	}
	return fmt.Sprintf("%s%s%s(%s)", f.Class, delimiter, f.Function, strings.Join(args, ", "))
}

func sourcePosition(f coroutine.Frame) string {
	if f.File == "" {
		return "<internal space>"
	}
	if f.Line <= 0 {
		return f.File + "(?)"
	}
	return fmt.Sprintf("%s(%d)", f.File, f.Line)
}

// traceTable converts a trace into rows. A negative frameIndex keeps every
// frame.
func traceTable(trace []coroutine.Frame, frameIndex int) ([]Row, error) {
	var rows []Row
	for i, f := range trace {
		if frameIndex >= 0 && i != frameIndex {
			continue
		}
		rows = append(rows, Row{
			{"frame", i},
			{"executing", executingString(f)},
			{"source_position", sourcePosition(f)},
		})
	}
	if len(rows) == 0 {
		return nil, dbg.NotFound("No trace info")
	}
	return rows, nil
}
