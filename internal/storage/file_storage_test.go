package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) FileStorage {
	t.Helper()
	fs, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestLocalStorage_SaveAndGet(t *testing.T) {
	fs := newTestStorage(t)

	ref, err := fs.Save("document.pdf", strings.NewReader("pdf-bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.True(t, strings.HasSuffix(ref, ".pdf"))

	reader, err := fs.Get(ref)
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(content))
}

func TestLocalStorage_SaveIgnoresClientFilename(t *testing.T) {
	fs := newTestStorage(t)

	ref, err := fs.Save("../../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotContains(t, ref, "..")
	assert.NotContains(t, ref, "passwd")

	// Saving the same filename twice yields distinct refs
	ref2, err := fs.Save("document.pdf", strings.NewReader("a"))
	require.NoError(t, err)
	ref3, err := fs.Save("document.pdf", strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, ref2, ref3)
}

func TestLocalStorage_Get_RejectsTraversal(t *testing.T) {
	fs := newTestStorage(t)

	cases := []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
	}
	for _, ref := range cases {
		_, err := fs.Get(ref)
		assert.ErrorIs(t, err, ErrPathTraversal, "ref %q", ref)
	}
}

func TestLocalStorage_Get_NotFound(t *testing.T) {
	fs := newTestStorage(t)

	_, err := fs.Get("aa/missing.bin")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalStorage_Delete_Idempotent(t *testing.T) {
	fs := newTestStorage(t)

	ref, err := fs.Save("a.txt", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, fs.Delete(ref))
	// Missing file counts as success
	require.NoError(t, fs.Delete(ref))

	_, err = fs.Get(ref)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLocalStorage_DeleteMany(t *testing.T) {
	fs := newTestStorage(t)

	ref1, err := fs.Save("a.txt", strings.NewReader("a"))
	require.NoError(t, err)
	ref2, err := fs.Save("b.txt", strings.NewReader("b"))
	require.NoError(t, err)

	deleted := fs.DeleteMany([]string{ref1, ref2, "../bad", "aa/missing.bin"})
	// Both real files plus the tolerated missing ref; traversal is refused
	assert.Equal(t, 3, deleted)
}

func TestLocalStorage_List(t *testing.T) {
	fs := newTestStorage(t)

	refs, err := fs.List()
	require.NoError(t, err)
	assert.Empty(t, refs)

	ref1, err := fs.Save("a.txt", strings.NewReader("a"))
	require.NoError(t, err)
	ref2, err := fs.Save("b.txt", strings.NewReader("b"))
	require.NoError(t, err)

	refs, err = fs.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ref1, ref2}, refs)
}

func TestSafeExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"report.pdf", ".pdf"},
		{"archive.TAR", ".tar"},
		{"noext", ".bin"},
		{"weird.p?f", ".bin"},
		{"dots...", ".bin"},
		{"long.superduperlongext", ".bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, safeExtension(tt.filename), "filename %q", tt.filename)
	}
}
