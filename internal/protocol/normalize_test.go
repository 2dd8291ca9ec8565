package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/unicode/norm"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"docs", "/docs"},
		{"/docs/", "/docs"},
		{"docs//sub/../file.txt", "/docs/file.txt"},
		{`windows\style\path`, "/windows/style/path"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, NormalizePath(tt.input))
		})
	}
}

func TestNormalizePath_UnicodeNFC(t *testing.T) {
	t.Parallel()

	// "café" with a decomposed accent, as macOS filesystems hand it over.
	decomposed := "/caf" + norm.NFD.String("é")
	composed := "/café"

	assert.Equal(t, composed, NormalizePath(decomposed))
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/share/docs/file.txt", JoinPath("share", "docs/file.txt"))
	assert.Equal(t, "/file.txt", JoinPath("", "file.txt"))
	assert.Equal(t, "/share", JoinPath("/share/", "/"))
}
