// Package executor drives the end-to-end run (component F): stage a
// merged input environment into a pool slot, run an ordered command
// list with per-command and per-request timeouts, optionally harvest a
// result file, and optionally snapshot the post-run tree as a new
// stored environment.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sandboxd/internal/dockerdriver"
	"sandboxd/internal/envstore"
	"sandboxd/internal/pool"
	"sandboxd/internal/runrequest"
	"sandboxd/internal/sandboxerr"
	"sandboxd/internal/tarmerge"
)

// PerCommand is one command's captured outcome.
type PerCommand struct {
	Command  string  `json:"command"`
	ExitCode int     `json:"exit_code"`
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	Time     float64 `json:"time"`
}

// Result is the full /execute/ response body.
type Result struct {
	Status      int          `json:"status"`
	Execution   []PerCommand `json:"execution"`
	TotalTime   float64      `json:"total_time"`
	Result      *string      `json:"result,omitempty"`
	Environment *string      `json:"environment,omitempty"`
	Expire      *time.Time   `json:"expire,omitempty"`
}

// Input describes one run: the commands to execute, the env_id already
// staged in the store (empty means "no input environment"), and the
// optional result/save directives.
type Input struct {
	Commands   []runrequest.Command
	EnvID      string
	ResultPath string
	Save       bool
	SaveAs     string
}

// Executor ties the container driver, the environment store, and the
// pool together to run one request against one held slot.
type Executor struct {
	driver  *dockerdriver.Driver
	store   *envstore.Store
	log     *zap.Logger
	timeout time.Duration
	ttl     time.Duration
}

// New builds an Executor. defaultTimeout is the request-wide execution
// budget (EXECUTE_TIMEOUT); ttl is the environment expiration window
// reported back to the client when save=true.
func New(driver *dockerdriver.Driver, store *envstore.Store, log *zap.Logger, defaultTimeout, ttl time.Duration) *Executor {
	return &Executor{driver: driver, store: store, log: log, timeout: defaultTimeout, ttl: ttl}
}

// Run executes in against slot, always releasing no resources itself —
// the caller owns slot release via pool.Release, including on panic.
func (e *Executor) Run(ctx context.Context, slot *pool.Slot, in Input) (*Result, error) {
	return e.run(ctx, slot, in, nil)
}

// RunStreaming behaves like Run but invokes onCommand the moment each
// PerCommand record is appended, letting a caller forward it (e.g. as a
// websocket frame) before the whole request finishes.
func (e *Executor) RunStreaming(ctx context.Context, slot *pool.Slot, in Input, onCommand func(PerCommand)) (*Result, error) {
	return e.run(ctx, slot, in, onCommand)
}

func (e *Executor) run(ctx context.Context, slot *pool.Slot, in Input, onCommand func(PerCommand)) (*Result, error) {
	start := time.Now()

	if in.EnvID != "" {
		if err := e.store.ExtractAll(in.EnvID, slot.EnvPath); err != nil {
			return nil, fmt.Errorf("executor: stage input environment: %w", err)
		}
	}

	result := &Result{Execution: make([]PerCommand, 0, len(in.Commands))}
	remaining := e.timeout
	status := 0
	stopped := false

	for _, cmd := range in.Commands {
		clamped := cmd.Timeout
		if remaining < clamped {
			clamped = remaining
		}
		if clamped <= 0 {
			clamped = time.Nanosecond
		}

		execResult, execErr := e.driver.Exec(ctx, slot.ContainerID, []string{"bash", "-c", cmd.Command}, cmd.Environ, clamped)

		switch {
		case errors.Is(execErr, dockerdriver.ErrTimeout):
			pc := PerCommand{
				Command:  cmd.Command,
				ExitCode: int(sandboxerr.Timeout),
				Stderr:   fmt.Sprintf("command timed out after %s seconds", formatSeconds(clamped)),
				Time:     clamped.Seconds(),
			}
			result.Execution = append(result.Execution, pc)
			if onCommand != nil {
				onCommand(pc)
			}
			status = int(sandboxerr.Timeout)
			stopped = true
		case execErr != nil:
			e.log.Error("executor: command exec failed", zap.String("command", cmd.Command), zap.Error(execErr))
			pc := PerCommand{
				Command:  cmd.Command,
				ExitCode: int(sandboxerr.Unknown),
				Stderr:   execErr.Error(),
			}
			result.Execution = append(result.Execution, pc)
			if onCommand != nil {
				onCommand(pc)
			}
			status = int(sandboxerr.Unknown)
			stopped = true
		default:
			pc := PerCommand{
				Command:  cmd.Command,
				ExitCode: execResult.ExitCode,
				Stdout:   trimTrailing(execResult.Stdout),
				Stderr:   trimTrailing(execResult.Stderr),
				Time:     execResult.Elapsed.Seconds(),
			}
			result.Execution = append(result.Execution, pc)
			if onCommand != nil {
				onCommand(pc)
			}

			elapsed := execResult.Elapsed
			if elapsed < 0 {
				elapsed = 0
			}
			remaining -= elapsed

			if cmd.IgnoreFailure || execResult.ExitCode == 0 {
				continue
			}
			status = execResult.ExitCode
			stopped = true
		}

		if stopped {
			break
		}
	}
	_ = stopped

	if in.ResultPath != "" {
		content, harvestStatus := e.harvestResult(slot, in.ResultPath)
		if harvestStatus != 0 {
			status = harvestStatus
		} else {
			result.Result = &content
		}
	}

	if in.Save {
		id := in.SaveAs
		if id == "" {
			id = uuid.New().String()
		}
		if err := e.store.Snapshot(slot.EnvPath, id); err != nil {
			return nil, fmt.Errorf("executor: snapshot: %w", err)
		}
		expire := time.Now().Add(e.ttl)
		result.Environment = &id
		result.Expire = &expire
	}

	result.Status = status
	result.TotalTime = time.Since(start).Seconds()
	return result, nil
}

func (e *Executor) harvestResult(slot *pool.Slot, resultPath string) (string, int) {
	clean := filepath.Clean(resultPath)
	if !tarmerge.IsSafePath(clean) {
		return "", int(sandboxerr.ResultNotFound)
	}
	data, err := os.ReadFile(filepath.Join(slot.EnvPath, clean))
	if err != nil {
		return "", int(sandboxerr.ResultNotFound)
	}
	if !utf8.Valid(data) {
		return "", int(sandboxerr.ResultNotUTF8)
	}
	return string(data), 0
}

func trimTrailing(s string) string {
	return strings.TrimRight(s, " \t\r\n")
}

func formatSeconds(d time.Duration) string {
	secs := d.Seconds()
	rounded := math.Round(secs*1000) / 1000
	s := fmt.Sprintf("%g", rounded)
	return s
}
