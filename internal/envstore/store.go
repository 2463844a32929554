// Package envstore is the filesystem-backed content store of
// UUID-addressed gzip tar environments (component C): read, write,
// extract a single file, snapshot a container's working tree, and
// TTL-expire.
package envstore

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sandboxd/internal/sandboxerr"
	"sandboxd/internal/tarmerge"
)

// Store is a flat directory of "{env_id}.tgz" files.
type Store struct {
	root  string
	log   *zap.Logger
	locks sync.Map // env_id -> *sync.Mutex, serializes Snapshot/Put per id

	index *boltIndex // optional accelerator, nil if disabled
}

// New builds a Store rooted at dir, creating it if absent. indexPath
// enables the optional bbolt ctime/size index used by Expire to avoid a
// full directory walk on a large store; an empty indexPath disables it.
func New(dir, indexPath string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("envstore: create root: %w", err)
	}
	s := &Store{root: dir, log: log}

	if indexPath != "" {
		idx, err := openBoltIndex(indexPath)
		if err != nil {
			log.Warn("envstore: bolt index unavailable, falling back to directory scans", zap.Error(err))
		} else {
			s.index = idx
			if err := s.rebuildIndexIfEmpty(); err != nil {
				log.Warn("envstore: bolt index rebuild failed", zap.Error(err))
			}
		}
	}
	return s, nil
}

// Close releases the optional index handle.
func (s *Store) Close() error {
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+".tgz")
}

// Get returns the on-disk path of id if it exists.
func (s *Store) Get(id string) (string, bool) {
	p := s.path(id)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// Put overwrites id's archive atomically via a temp-file-then-rename,
// so readers never observe a partial file.
func (s *Store) Put(id string, data []byte) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return s.putLocked(id, data)
}

func (s *Store) putLocked(id string, data []byte) error {
	tmp, err := os.CreateTemp(s.root, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("envstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("envstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("envstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("envstore: rename into place: %w", err)
	}
	if s.index != nil {
		_ = s.index.put(id, time.Now(), int64(len(data)))
	}
	return nil
}

func (s *Store) lockFor(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ExtractFile opens id's archive and returns the named member's bytes.
// It fails with *sandboxerr.NotFoundError if either the archive or the
// member is absent.
func (s *Store) ExtractFile(id, innerPath string) ([]byte, error) {
	p, ok := s.Get(id)
	if !ok {
		return nil, sandboxerr.NewNotFound("environment " + id)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, sandboxerr.NewNotFound("environment " + id)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("envstore: open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	want := filepath.Clean(innerPath)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("envstore: read tar: %w", err)
		}
		if filepath.Clean(hdr.Name) != want {
			continue
		}
		return io.ReadAll(tr)
	}
	return nil, sandboxerr.NewNotFound("file " + innerPath + " in environment " + id)
}

// ExtractAll unpacks id's archive into destDir, rejecting any entry
// whose path would escape destDir.
func (s *Store) ExtractAll(id, destDir string) error {
	p, ok := s.Get(id)
	if !ok {
		return sandboxerr.NewNotFound("environment " + id)
	}
	f, err := os.Open(p)
	if err != nil {
		return sandboxerr.NewNotFound("environment " + id)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("envstore: open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("envstore: read tar: %w", err)
		}
		if !tarmerge.IsSafePath(hdr.Name) {
			return &sandboxerr.UnsafePathError{Path: hdr.Name}
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
	return nil
}

// Snapshot builds "{id}.tgz" from every entry under root, overwriting
// any existing archive atomically. Snapshot is serialized against
// itself per id; it may run concurrently with reads of other ids.
func (s *Store) Snapshot(root, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	data, err := buildTarGz(root)
	if err != nil {
		return fmt.Errorf("envstore: build snapshot: %w", err)
	}
	return s.putLocked(id, data)
}

func buildTarGz(root string) ([]byte, error) {
	var buf writeBuffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.b, nil
}

// writeBuffer avoids pulling in bytes.Buffer just for its Write method name collision concerns.
type writeBuffer struct{ b []byte }

func (w *writeBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

// Expire deletes every archive whose creation time is at or beyond ttl
// in the past, returning the number removed. Files younger than ttl are
// left untouched.
func (s *Store) Expire(now time.Time, ttl time.Duration) (int, error) {
	if s.index != nil {
		removed, err := s.expireViaIndex(now, ttl)
		if err == nil {
			return removed, nil
		}
		s.log.Warn("envstore: index-based expire failed, falling back to directory scan", zap.Error(err))
	}
	return s.expireViaScan(now, ttl)
}

func (s *Store) expireViaScan(now time.Time, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("envstore: read root: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tgz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) >= ttl {
			id := trimTgz(e.Name())
			if err := os.Remove(filepath.Join(s.root, e.Name())); err != nil {
				continue
			}
			if s.index != nil {
				_ = s.index.delete(id)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *Store) expireViaIndex(now time.Time, ttl time.Duration) (int, error) {
	stale, err := s.index.listOlderThan(now.Add(-ttl))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range stale {
		if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
			continue
		}
		_ = s.index.delete(id)
		removed++
	}
	return removed, nil
}

func (s *Store) rebuildIndexIfEmpty() error {
	empty, err := s.index.isEmpty()
	if err != nil || !empty {
		return err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tgz") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		_ = s.index.put(trimTgz(e.Name()), info.ModTime(), info.Size())
	}
	return nil
}

func trimTgz(name string) string {
	return name[:len(name)-len(".tgz")]
}
