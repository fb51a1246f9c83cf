package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func runFilter(fragments ...string) string {
	var f ThinkFilter
	var sb strings.Builder
	for _, frag := range fragments {
		sb.WriteString(f.Write(frag))
	}
	sb.WriteString(f.Flush())
	return sb.String()
}

func TestThinkFilter(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      string
	}{
		{"no markers", []string{"hello ", "world"}, "hello world"},
		{"whole span", []string{"a<think>secret</think>b"}, "ab"},
		{"span across fragments", []string{"a<think>sec", "ret</think>b"}, "ab"},
		{"open marker split", []string{"a<thi", "nk>secret</think>b"}, "ab"},
		{"close marker split", []string{"a<think>secret</th", "ink>b"}, "ab"},
		{"marker split per byte", strings.Split("x<think>y</think>z", ""), "xz"},
		{"two spans", []string{"1<think>a</think>2<think>b</think>3"}, "123"},
		{"unterminated span", []string{"keep<think>drop"}, "keep"},
		{"lookalike is text", []string{"a <thin", "g> b"}, "a <thing> b"},
		{"trailing partial marker", []string{"ends with <thi"}, "ends with <thi"},
		{"lone close marker", []string{"a</think>b"}, "a</think>b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runFilter(tt.fragments...))
		})
	}
}

func TestThinkFilterState(t *testing.T) {
	var f ThinkFilter

	assert.Equal(t, "a", f.Write("a<think>"))
	assert.True(t, f.Inside())
	assert.Equal(t, "", f.Write("thinking"))
	assert.Equal(t, "b", f.Write("</think>b"))
	assert.False(t, f.Inside())
}

func TestStripThink(t *testing.T) {
	assert.Equal(t, "Answer", StripThink("<think>\nreasoning\n</think>\n\nAnswer\n"))
	assert.Equal(t, "plain", StripThink("plain"))
}

func TestFilterStream(t *testing.T) {
	in := make(chan string, 4)
	in <- "He<thi"
	in <- "nk>x</thi"
	in <- "nk>llo"
	close(in)

	var sb strings.Builder
	for s := range FilterStream(in) {
		sb.WriteString(s)
	}
	assert.Equal(t, "Hello", sb.String())
}
