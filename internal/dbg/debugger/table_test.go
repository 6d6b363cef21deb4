package debugger

import (
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gni.dev/sdb/internal/coroutine"
)

func TestFormatTable(t *testing.T) {
	assert.Equal(t, "No more content", FormatTable(nil))

	want := strings.Join([]string{
		"-------------",
		"| id | name |",
		"=============",
		"| 1  | abc  |",
		"-------------",
	}, "\n")
	assert.Equal(t, want, FormatTable([]Row{{{"id", 1}, {"name", "abc"}}}))
}

func TestFormatTableWidths(t *testing.T) {
	out := FormatTable([]Row{
		{{"k", "a"}},
		{{"k", "wider"}, {"extra", true}},
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "| k     | extra |", lines[1])
	assert.Equal(t, "| a     |       |", lines[3])
	assert.Equal(t, "| wider | true  |", lines[4])
	for _, line := range lines {
		assert.Len(t, line, len(lines[0]))
	}
}

var valueTests = []struct {
	value   any
	forArgs bool
	want    string
}{
	{nil, false, "null"},
	{true, false, "true"},
	{42, false, "42"},
	{1.5, false, "1.5"},
	{"short", true, "'short'"},
	{"exceeding", true, "'exceedin...'"},
	{strings.Repeat("x", 600), false, strings.Repeat("x", 512) + "..."},
	{[]int{}, false, "[]"},
	{[]int{1}, false, "[...]"},
	{struct{}{}, false, "struct {}{}"},
}

func TestValueString(t *testing.T) {
	for i, tt := range valueTests {
		assert.Equal(t, tt.want, valueString(tt.value, tt.forArgs), "test #%d", i)
	}
}

func TestExecutingString(t *testing.T) {
	assert.Equal(t, "Unknown", executingString(coroutine.Frame{}))
	assert.Equal(t, "main(1, 'a')", executingString(coroutine.Frame{Function: "main", Args: []any{1, "a"}}))
	assert.Equal(t, "pkg::Run()", executingString(coroutine.Frame{Class: "pkg", Function: "Run"}))
}

func TestTraceTable(t *testing.T) {
	trace := []coroutine.Frame{
		{Function: "inner", File: "/src/a.go", Line: 3},
		{Function: "{main}"},
	}
	rows, err := traceTable(trace, -1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	pos, _ := rows[0].Get("source_position")
	assert.Equal(t, "/src/a.go(3)", pos)
	pos, _ = rows[1].Get("source_position")
	assert.Equal(t, "<internal space>", pos)

	rows, err = traceTable(trace, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	frame, _ := rows[0].Get("frame")
	assert.Equal(t, 1, frame)

	_, err = traceTable(trace, 5)
	assert.True(t, errdefs.IsNotFound(err))
}
