package debugger

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"gni.dev/sdb/internal/dbg"
)

// SourceMap rewrites displayed source positions, e.g. container paths to
// host paths. Pairs are applied in document order.
type SourceMap struct {
	pairs [][2]string
}

// LoadSourceMap reads a flat JSON object of from -> to prefixes. A missing
// file yields a nil map.
func LoadSourceMap(path string) (*SourceMap, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseSourceMap(data)
}

func ParseSourceMap(data []byte) (*SourceMap, error) {
	if !gjson.ValidBytes(data) {
		return nil, dbg.InvalidArgument("source map is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, dbg.InvalidArgument("source map must be a JSON object")
	}
	m := &SourceMap{}
	doc.ForEach(func(key, value gjson.Result) bool {
		m.pairs = append(m.pairs, [2]string{key.String(), value.String()})
		return true
	})
	if len(m.pairs) == 0 {
		return nil, nil
	}
	return m, nil
}

func (m *SourceMap) Apply(position string) string {
	if m == nil {
		return position
	}
	for _, p := range m.pairs {
		position = strings.ReplaceAll(position, p[0], p[1])
	}
	return position
}
