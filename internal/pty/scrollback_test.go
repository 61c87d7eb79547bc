package pty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrollbackWrite(t *testing.T) {
	tests := []struct {
		name   string
		max    int
		writes []string
		want   string
	}{
		{"empty", 8, nil, ""},
		{"under capacity", 8, []string{"abc", "def"}, "abcdef"},
		{"exactly full", 8, []string{"abcd", "efgh"}, "abcdefgh"},
		{"evicts oldest", 8, []string{"abcdef", "ghij"}, "cdefghij"},
		{"single oversized write", 4, []string{"abcdefgh"}, "efgh"},
		{"oversized after data", 4, []string{"xy", "abcdefgh"}, "efgh"},
		{"many small writes", 3, []string{"a", "b", "c", "d", "e"}, "cde"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := NewScrollback(tt.max)
			for _, w := range tt.writes {
				n, err := sb.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, string(sb.Bytes()))
			assert.LessOrEqual(t, sb.Len(), tt.max)
		})
	}
}

func TestScrollbackBytesIsCopy(t *testing.T) {
	sb := NewScrollback(16)
	sb.Write([]byte("hello"))

	b := sb.Bytes()
	b[0] = 'J'
	assert.Equal(t, "hello", string(sb.Bytes()))
}

func TestScrollbackReset(t *testing.T) {
	sb := NewScrollback(16)
	sb.Write([]byte("hello"))
	sb.Reset()

	assert.Zero(t, sb.Len())
	assert.Empty(t, sb.Bytes())
	assert.Equal(t, 16, sb.Cap())
}

func TestScrollbackDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultScrollbackSize, NewScrollback(0).Cap())
}
