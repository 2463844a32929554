// Package pool implements the fixed-size pool of pre-warmed sandbox
// containers (component B): acquire-with-timeout, release-with-reset,
// and crash-recovery, collapsed onto a single bounded blocking queue.
package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sandboxd/internal/config"
	"sandboxd/internal/dockerdriver"
	"sandboxd/internal/sandboxerr"
)

// Slot is one pre-created container plus its private writable host
// directory. At any instant a slot is either sitting in the pool's
// queue (available) or checked out to exactly one caller (held).
type Slot struct {
	Index        int
	Name         string
	ContainerID  string
	EnvPath      string
	LastAcquired time.Time
}

// Pool is a fixed-size set of Slots. The channel is the sole
// synchronization point; all other pool-owned state lives inside the
// Slot the caller currently holds.
type Pool struct {
	driver *dockerdriver.Driver
	cfg    config.Config
	log    *zap.Logger

	ch   chan *Slot
	size int
}

// New initializes the pool: purges stale containers from a prior run,
// wipes per-slot scratch directories, creates N fresh containers, and
// fills the queue.
func New(ctx context.Context, cfg config.Config, driver *dockerdriver.Driver, log *zap.Logger) (*Pool, error) {
	p := &Pool{
		driver: driver,
		cfg:    cfg,
		log:    log,
		ch:     make(chan *Slot, cfg.DockerCount),
		size:   cfg.DockerCount,
	}
	if err := p.init(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) init(ctx context.Context) error {
	if err := p.purge(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(p.cfg.Container.VolumeHostBaseDir); err != nil {
		return fmt.Errorf("pool: purge scratch root: %w", err)
	}
	if err := os.MkdirAll(p.cfg.Container.VolumeHostBaseDir, 0o755); err != nil {
		return fmt.Errorf("pool: create scratch root: %w", err)
	}

	for i := 0; i < p.size; i++ {
		slot, err := p.createSlot(ctx, i)
		if err != nil {
			return fmt.Errorf("pool: initialize slot %d: %w", i, err)
		}
		p.ch <- slot
		p.log.Info("sandbox initialized", zap.Int("index", i), zap.Int("total", p.size))
	}
	return nil
}

func (p *Pool) purge(ctx context.Context) error {
	ids, err := p.driver.ListByImage(ctx, p.cfg.Container.Image)
	if err != nil {
		return fmt.Errorf("pool: list stale containers: %w", err)
	}
	for _, id := range ids {
		if err := p.driver.Remove(ctx, id); err != nil {
			p.log.Warn("could not remove stale container", zap.String("container_id", id), zap.Error(err))
		}
	}
	return nil
}

func (p *Pool) createSlot(ctx context.Context, index int) (*Slot, error) {
	name := fmt.Sprintf("c%d", index)
	envPath := filepath.Join(p.cfg.Container.VolumeHostBaseDir, name)
	if err := os.RemoveAll(envPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(envPath, 0o755); err != nil {
		return nil, err
	}
	containerID, err := p.driver.Create(ctx, name, envPath)
	if err != nil {
		return nil, err
	}
	return &Slot{Index: index, Name: name, ContainerID: containerID, EnvPath: envPath}, nil
}

// Acquire blocks up to `wait` for a ready slot, exclusively handing it
// to the caller. It returns sandboxerr.ErrUnavailable on expiry.
func (p *Pool) Acquire(ctx context.Context, wait time.Duration) (*Slot, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case slot := <-p.ch:
		slot.LastAcquired = time.Now()
		return slot, nil
	case <-timer.C:
		return nil, sandboxerr.ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release empties the slot's working directory and restarts its
// container before returning it to the pool. A restart failure forces a
// full slot reset (remove + recreate under the same name/index) so the
// pool never loses a slot. The reset runs inline; Release reports no
// error to the caller and returns once the slot is back in the queue.
func (p *Pool) Release(slot *Slot) {
	ctx := context.Background()

	if err := resetDir(slot.EnvPath); err != nil {
		p.log.Error("release: could not reset env dir, resetting slot", zap.Int("index", slot.Index), zap.Error(err))
		p.resetSlot(ctx, slot)
		return
	}

	if err := p.driver.Restart(ctx, slot.ContainerID); err != nil {
		p.log.Warn("release: restart failed, resetting slot", zap.Int("index", slot.Index), zap.Error(err))
		p.resetSlot(ctx, slot)
		return
	}

	p.ch <- slot
}

func (p *Pool) resetSlot(ctx context.Context, slot *Slot) {
	_ = p.driver.Remove(ctx, slot.ContainerID)
	fresh, err := p.createSlot(ctx, slot.Index)
	if err != nil {
		// Last resort: requeue the broken slot at once rather than
		// permanently losing a pool position; the next Release retries.
		p.log.Error("reset: could not recreate container, requeueing broken slot", zap.Int("index", slot.Index), zap.Error(err))
		p.ch <- slot
		return
	}
	p.ch <- fresh
}

// Available returns the approximate number of ready slots.
func (p *Pool) Available() int {
	return len(p.ch)
}

// Size returns the pool's configured capacity.
func (p *Pool) Size() int {
	return p.size
}

// ResetAll drains the pool and rebuilds every slot from scratch.
func (p *Pool) ResetAll(ctx context.Context) error {
	for {
		select {
		case slot := <-p.ch:
			_ = p.driver.Remove(ctx, slot.ContainerID)
		default:
			return p.init(ctx)
		}
	}
}

func resetDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}
