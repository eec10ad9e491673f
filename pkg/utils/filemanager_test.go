package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		rel     string
		want    string
		wantErr bool
	}{
		{rel: "video.mp4", want: filepath.Join(base, "video.mp4")},
		{rel: "/video.mp4", want: filepath.Join(base, "video.mp4")},
		{rel: "\\audio.m4a", want: filepath.Join(base, "audio.m4a")},
		{rel: "sub\\clip.mp4", want: filepath.Join(base, "sub", "clip.mp4")},
		{rel: "../secret", wantErr: true},
		{rel: "a/../../secret", wantErr: true},
		{rel: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := SafeJoin(base, tt.rel)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsafePath, tt.rel)
			continue
		}
		require.NoError(t, err, tt.rel)
		assert.Equal(t, tt.want, got)
	}
}

func TestFileManager_ItemDir(t *testing.T) {
	fm := NewFileManager(t.TempDir())

	dir, err := fm.EnsureItemDir("dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	for _, bad := range []string{"", "..", "a/b", "a b", "../x"} {
		_, err := fm.ItemDir(bad)
		assert.ErrorIs(t, err, ErrUnsafePath, bad)
	}
}

func TestFileManager_JSON(t *testing.T) {
	fm := NewFileManager(t.TempDir())

	type meta struct {
		Title string `json:"title"`
	}
	require.NoError(t, fm.WriteJSON("abc", "meta.json", meta{Title: "hello"}))

	var got meta
	require.NoError(t, fm.ReadJSON("abc", "meta.json", &got))
	assert.Equal(t, "hello", got.Title)

	err := fm.ReadJSON("missing", "meta.json", &got)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileManager_Contains(t *testing.T) {
	root := t.TempDir()
	fm := NewFileManager(root)

	assert.True(t, fm.Contains(filepath.Join(root, "a", "video.mp4")))
	assert.False(t, fm.Contains(filepath.Join(root, "..", "other")))
}

func TestFileManager_CleanOlderThan(t *testing.T) {
	root := t.TempDir()
	fm := NewFileManager(root)

	require.NoError(t, fm.WriteJSON("old", "meta.json", map[string]string{}))
	require.NoError(t, fm.WriteJSON("fresh", "meta.json", map[string]string{}))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "old", "meta.json"), past, past))
	require.NoError(t, os.Chtimes(filepath.Join(root, "old"), past, past))

	removed, err := fm.CleanOlderThan(24*time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, filepath.Join(root, "old"))
	assert.DirExists(t, filepath.Join(root, "fresh"))

	missing := NewFileManager(filepath.Join(root, "nope"))
	removed, err = missing.CleanOlderThan(time.Hour, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestFileHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.bin")
	assert.False(t, FileExists(path))

	require.NoError(t, os.WriteFile(path, []byte("12345"), 0644))
	assert.True(t, FileExists(path))
	assert.False(t, FileExists(filepath.Dir(path)))

	size, err := GetFileSize(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}
