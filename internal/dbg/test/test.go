package test

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

var tmpDir string

// Fixture returns the path of a source file under fixtures.
func Fixture(name string) string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		fmt.Fprintln(os.Stderr, "cannot find source file")
		os.Exit(1)
	}
	return filepath.Join(filepath.Dir(filename), "fixtures", name+".go")
}

// Line returns the line of the fixture that carries the "// @marker"
// comment.
func Line(t testing.TB, name, marker string) int {
	t.Helper()
	f, err := os.Open(Fixture(name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for n := 1; s.Scan(); n++ {
		if strings.HasSuffix(s.Text(), "// @"+marker) {
			return n
		}
	}
	t.Fatalf("marker %q not found in fixture %s", marker, name)
	return 0
}

// TempFile writes data to a file in the test directory and returns its
// path.
func TempFile(t testing.TB, name, data string) string {
	t.Helper()
	path := filepath.Join(tmpDir, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func Run(m *testing.M) int {
	var err error
	tmpDir, err = os.MkdirTemp("", "sdb-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	return code
}
