// Package libraries stages the read-only external library repos that
// get bind-mounted at /utils/libs into every sandbox container
// (component J): clone on first sight, pull to refresh thereafter.
package libraries

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"sandboxd/internal/config"
)

// Stager keeps EXTERNAL_LIBRARIES_ROOT/{alias} in sync with the
// configured (alias, url) pairs using the system git binary.
type Stager struct {
	root  string
	repos []config.LibraryRepo
	log   *zap.Logger
}

// New builds a Stager rooted at root for the given repos.
func New(root string, repos []config.LibraryRepo, log *zap.Logger) *Stager {
	return &Stager{root: root, repos: repos, log: log}
}

// RefreshAll clones any alias not yet present and pulls the rest,
// continuing past individual repo failures so one bad URL does not
// block the others.
func (s *Stager) RefreshAll(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("libraries: create root: %w", err)
	}
	var firstErr error
	for _, repo := range s.repos {
		if err := s.refreshOne(ctx, repo); err != nil {
			s.log.Error("libraries: refresh failed", zap.String("alias", repo.Alias), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Stager) refreshOne(ctx context.Context, repo config.LibraryRepo) error {
	dest := filepath.Join(s.root, repo.Alias)
	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		return s.pull(ctx, dest, repo.URL)
	}
	return s.clone(ctx, dest, repo.URL)
}

func (s *Stager) clone(ctx context.Context, dest, url string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", url, dest)
	cmd.Env = gitEnv()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %w: %s", err, out)
	}
	s.log.Info("libraries: cloned", zap.String("dest", dest), zap.String("url", url))
	return nil
}

func (s *Stager) pull(ctx context.Context, dest, url string) error {
	cmd := exec.CommandContext(ctx, "git", "pull", url, "master")
	cmd.Dir = dest
	cmd.Env = gitEnv()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git pull: %w: %s", err, out)
	}
	s.log.Info("libraries: pulled", zap.String("dest", dest))
	return nil
}

func gitEnv() []string {
	return append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
}
