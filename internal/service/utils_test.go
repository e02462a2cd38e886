package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTradeDate(t *testing.T) {
	d, err := ParseTradeDate("2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, 2026, d.Year())

	_, err = ParseTradeDate("20260825")
	assert.Error(t, err)
	_, err = ParseTradeDate("2026-13-01")
	assert.Error(t, err)
}

func TestPrevBusinessDay(t *testing.T) {
	cases := []struct{ in, want string }{
		{"2026-08-25", "2026-08-24"}, // 周二 → 周一
		{"2026-08-24", "2026-08-21"}, // 周一 → 上周五
		{"2026-08-23", "2026-08-21"}, // 周日 → 周五
	}
	for _, c := range cases {
		got, err := PrevBusinessDay(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "prev business day of %s", c.in)
	}

	_, err := PrevBusinessDay("bad-date")
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.csv")

	require.NoError(t, WriteFileAtomic(path, []byte("v1")))
	require.NoError(t, WriteFileAtomic(path, []byte("v2")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(raw))

	// 写入过程不留下临时文件
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
