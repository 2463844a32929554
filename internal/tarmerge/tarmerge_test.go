package tarmerge

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func readTarGz(t *testing.T, data []byte) map[string]string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	out := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = string(content)
	}
	return out
}

func TestMergeOverlayWinsOnCollision(t *testing.T) {
	base := buildTarGz(t, map[string]string{
		"a.txt": "base-a",
		"b.txt": "base-b",
	})
	overlay := buildTarGz(t, map[string]string{
		"a.txt": "overlay-a",
		"c.txt": "overlay-c",
	})

	merged, err := Merge(overlay, base)
	require.NoError(t, err)

	files := readTarGz(t, merged)
	assert.Equal(t, "overlay-a", files["a.txt"])
	assert.Equal(t, "base-b", files["b.txt"])
	assert.Equal(t, "overlay-c", files["c.txt"])
	assert.Len(t, files, 3)
}

func TestMergeNilBase(t *testing.T) {
	overlay := buildTarGz(t, map[string]string{"only.txt": "content"})

	merged, err := Merge(overlay, nil)
	require.NoError(t, err)

	files := readTarGz(t, merged)
	assert.Equal(t, "content", files["only.txt"])
}

func TestMergeNilOverlay(t *testing.T) {
	base := buildTarGz(t, map[string]string{"only.txt": "content"})

	merged, err := Merge(nil, base)
	require.NoError(t, err)

	files := readTarGz(t, merged)
	assert.Equal(t, "content", files["only.txt"])
}

func TestMergeBothNil(t *testing.T) {
	merged, err := Merge(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, readTarGz(t, merged))
}

func TestMergeRejectsUnsafeOverlayPath(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	hdr := &tar.Header{Name: "../escape.txt", Mode: 0o644, Size: 4, Typeflag: tar.TypeReg}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	_, err = Merge(buf.Bytes(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escape.txt")
}

func TestIsSafePath(t *testing.T) {
	cases := []struct {
		path string
		safe bool
	}{
		{"a/b/c.txt", true},
		{"c.txt", true},
		{"./c.txt", true},
		{"..", false},
		{".", false},
		{"/etc/passwd", false},
		{"../escape", false},
		{"a/../../escape", false},
		{"a/b/../c.txt", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.safe, IsSafePath(c.path), "path %q", c.path)
	}
}
