// Package tarmerge composes two gzip tar streams into one under the
// overlay-wins precedence rule (component D): the client's in-request
// body tar is a cheap patch over a larger stored base environment.
package tarmerge

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"sandboxd/internal/sandboxerr"
)

type entry struct {
	header *tar.Header
	data   []byte
}

// Merge combines overlay (wins on path collision) and base into one
// gzip tar stream. Either may be nil, short-circuiting to a recompress
// of the other (or an empty archive if both are nil).
func Merge(overlay, base []byte) ([]byte, error) {
	overlayEntries, err := readEntries(overlay)
	if err != nil {
		return nil, fmt.Errorf("tarmerge: read overlay: %w", err)
	}
	baseEntries, err := readEntries(base)
	if err != nil {
		return nil, fmt.Errorf("tarmerge: read base: %w", err)
	}

	seen := make(map[string]bool, len(overlayEntries))
	ordered := make([]entry, 0, len(overlayEntries)+len(baseEntries))
	for _, e := range overlayEntries {
		ordered = append(ordered, e)
		seen[cleanEntryName(e.header.Name)] = true
	}
	for _, e := range baseEntries {
		if seen[cleanEntryName(e.header.Name)] {
			continue
		}
		ordered = append(ordered, e)
	}

	return writeEntries(ordered)
}

func cleanEntryName(name string) string {
	return strings.TrimSuffix(path.Clean("/"+name), "/")
}

// IsSafePath rejects archive entries that would escape an extraction
// root. The name is cleaned first; it is rejected if the cleaned path is
// absolute, is "." or "..", or still begins with a ".." component.
func IsSafePath(name string) bool {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == "." || clean == ".." {
		return false
	}
	if strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return false
	}
	return true
}

func readEntries(data []byte) ([]entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var entries []entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !IsSafePath(hdr.Name) {
			return nil, &sandboxerr.UnsafePathError{Path: hdr.Name}
		}
		buf, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{header: hdr, data: buf})
	}
	return entries, nil
}

func writeEntries(entries []entry) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		if err := tw.WriteHeader(e.header); err != nil {
			return nil, err
		}
		if e.header.Typeflag == tar.TypeReg {
			if _, err := tw.Write(e.data); err != nil {
				return nil, err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
