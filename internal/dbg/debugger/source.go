package debugger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gni.dev/sdb/internal/dbg"
)

const (
	sourcePadding   = 4
	sourceLineCount = 8
)

type sourceFile struct {
	path  string
	lines []string
}

func loadSourceFile(path string) (*sourceFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, dbg.NotFound("Source File not found")
	}
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return &sourceFile{path: path, lines: lines}, nil
}

// window returns the lines around line, the current one marked with "->".
func (f *sourceFile) window(line int) ([]Row, error) {
	start := line
	if line >= 2 {
		start = line - (sourceLineCount - sourcePadding - 1)
	}
	start = max(start, 1)
	if start > len(f.lines) {
		return nil, dbg.OutOfRange("File Line not found")
	}

	var rows []Row
	for i := start; i < start+sourceLineCount && i <= len(f.lines); i++ {
		var label any = i
		if i == line {
			label = fmt.Sprintf("%d->", i)
		}
		rows = append(rows, Row{{"line", label}, {"contents", f.lines[i-1]}})
	}
	return rows, nil
}

// following returns the lines after a window centred on line.
func (f *sourceFile) following(line, count int) []Row {
	var rows []Row
	for i := line + sourcePadding + 1; i < line+sourcePadding+count; i++ {
		if i < 1 {
			continue
		}
		if i > len(f.lines) {
			break
		}
		rows = append(rows, Row{{"line", i}, {"contents", f.lines[i-1]}})
	}
	return rows
}
