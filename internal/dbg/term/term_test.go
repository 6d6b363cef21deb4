package term

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockTerminal struct {
	input io.Reader
	mu    sync.Mutex
	out   bytes.Buffer
}

func NewMockTerminal(input string) *MockTerminal {
	return &MockTerminal{input: strings.NewReader(input)}
}

func (c *MockTerminal) Read(data []byte) (int, error) {
	return c.input.Read(data)
}

func (c *MockTerminal) Close() error {
	return nil
}

func (c *MockTerminal) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(data)
}

func (c *MockTerminal) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func newTerm(t *testing.T, input string) (*Term, *MockTerminal) {
	t.Helper()
	screen := NewMockTerminal(input)
	tt, err := New(context.Background(), Config{
		Greeting: "hello",
		Stdin:    screen,
		Stdout:   screen,
		Stderr:   screen,
	})
	require.NoError(t, err)
	t.Cleanup(func() { tt.Close() })
	return tt, screen
}

var inputTests = []struct {
	input string
	want  [][]string
}{
	{
		input: "ps\n",
		want:  [][]string{{"ps"}},
	},
	{
		input: "  frame   1 \n",
		want:  [][]string{{"frame", "1"}},
	},
	{
		input: "next\n\n",
		want:  [][]string{{"next"}, {"next"}},
	},
	{
		input: "p a + b\nbt\n",
		want:  [][]string{{"p", "a", "+", "b"}, {"bt"}},
	},
}

func TestInput(t *testing.T) {
	for i, test := range inputTests {
		tt, _ := newTerm(t, test.input)
		for _, want := range test.want {
			args, err := tt.ReadLine(nil)
			require.NoError(t, err, "test #%d", i)
			assert.Equal(t, want, args, "test #%d", i)
		}
		_, err := tt.ReadLine(nil)
		assert.ErrorIs(t, err, io.EOF, "test #%d", i)
	}
}

func TestOutput(t *testing.T) {
	tt, screen := newTerm(t, "")
	assert.False(t, tt.IsInteractive())

	require.NoError(t, tt.WriteLine("line"))
	require.NoError(t, tt.WriteError("oops"))
	require.NoError(t, tt.ShutdownSession())

	out := screen.output()
	assert.Contains(t, out, "hello\n")
	assert.Contains(t, out, "line\n")
	assert.Contains(t, out, "oops\n")
	assert.Contains(t, out, "killall")
}
