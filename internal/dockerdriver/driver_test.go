package dockerdriver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxd/internal/config"
)

// requireDocker skips the test unless a Docker daemon is reachable from the
// ambient environment. These tests exercise the real Engine SDK against a
// throwaway alpine container rather than a mock, the same way the pool that
// owns this driver behaves in production.
func requireDocker(t *testing.T) *Driver {
	t.Helper()
	d, err := New(config.ContainerParams{Image: "alpine:3.20"})
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := d.ListByImage(ctx, "alpine:3.20"); err != nil {
		t.Skipf("docker daemon unreachable: %v", err)
	}
	return d
}

func TestCreateExecRemoveLifecycle(t *testing.T) {
	d := requireDocker(t)
	ctx := context.Background()

	hostDir := t.TempDir()
	id, err := d.Create(ctx, "sandboxd-test-lifecycle", hostDir)
	require.NoError(t, err)
	defer d.Remove(ctx, id)

	result, err := d.Exec(ctx, id, []string{"echo", "hello"}, nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, "hello")
}

func TestExecReturnsErrTimeoutOnSlowCommand(t *testing.T) {
	d := requireDocker(t)
	ctx := context.Background()

	hostDir := t.TempDir()
	id, err := d.Create(ctx, "sandboxd-test-timeout", hostDir)
	require.NoError(t, err)
	defer d.Remove(ctx, id)

	_, err = d.Exec(ctx, id, []string{"sleep", "5"}, nil, 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecPassesEnvironmentVariables(t *testing.T) {
	d := requireDocker(t)
	ctx := context.Background()

	hostDir := t.TempDir()
	id, err := d.Create(ctx, "sandboxd-test-env", hostDir)
	require.NoError(t, err)
	defer d.Remove(ctx, id)

	result, err := d.Exec(ctx, id, []string{"sh", "-c", "echo $GREETING"}, map[string]string{"GREETING": "hi there"}, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "hi there")
}

func TestRestart(t *testing.T) {
	d := requireDocker(t)
	ctx := context.Background()

	hostDir := t.TempDir()
	id, err := d.Create(ctx, "sandboxd-test-restart", hostDir)
	require.NoError(t, err)
	defer d.Remove(ctx, id)

	require.NoError(t, d.Restart(ctx, id))

	result, err := d.Exec(ctx, id, []string{"echo", "still alive"}, nil, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "still alive")
}
