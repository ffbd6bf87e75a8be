// ABOUTME: Tests for table rendering and byte/percent formatting.

package console

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{1024, "1.0KiB"},
		{1536, "1.5KiB"},
		{10 * 1024, "10KiB"},
		{1 << 20, "1.0MiB"},
		{5 << 30, "5.0GiB"},
		{3 << 40, "3.0TiB"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, humanBytes(tc.in), "input %d", tc.in)
	}
}

func TestPct(t *testing.T) {
	assert.Equal(t, 50.0, pct(1, 2))
	assert.Equal(t, 0.0, pct(0, 0), "zero total must not divide")
	assert.Equal(t, 100.0, pct(4, 4))
}

func TestRenderTable(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	renderTable(&buf,
		[]string{"ID", "CPU%"},
		[][]string{{"1", "12.5"}, {"23", "0.1"}},
		"Status",
	)

	out := buf.String()
	assert.Contains(t, out, "Status")
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "CPU%")
	assert.Contains(t, out, "| 1 ")
	assert.Contains(t, out, "| 23")
	assert.Contains(t, out, "12.5")
}

func TestRenderTable_EmptyRows(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	renderTable(&buf, []string{"A"}, nil, "")
	assert.Contains(t, buf.String(), "A")
}
