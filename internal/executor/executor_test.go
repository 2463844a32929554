package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sandboxd/internal/config"
	"sandboxd/internal/dockerdriver"
	"sandboxd/internal/envstore"
	"sandboxd/internal/pool"
	"sandboxd/internal/runrequest"
)

type testRig struct {
	pool  *pool.Pool
	store *envstore.Store
	exec  *Executor
}

func requireRig(t *testing.T) *testRig {
	t.Helper()
	cfg := config.Config{
		DockerCount: 1,
		Container: config.ContainerParams{
			Image:             "bash:5.2",
			VolumeHostBaseDir: t.TempDir(),
			PidsLimit:         64,
		},
	}
	driver, err := dockerdriver.New(cfg.Container)
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	ctx := context.Background()
	if _, err := driver.ListByImage(ctx, cfg.Container.Image); err != nil {
		t.Skipf("docker daemon unreachable: %v", err)
	}

	p, err := pool.New(ctx, cfg, driver, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.ResetAll(context.Background()) })

	store, err := envstore.New(t.TempDir(), "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &testRig{
		pool:  p,
		store: store,
		exec:  New(driver, store, zap.NewNop(), 10*time.Second, time.Hour),
	}
}

func TestRunExecutesCommandsInOrder(t *testing.T) {
	rig := requireRig(t)
	slot, err := rig.pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer rig.pool.Release(slot)

	in := Input{Commands: []runrequest.Command{
		{Command: "echo first", Timeout: 5 * time.Second},
		{Command: "echo second", Timeout: 5 * time.Second},
	}}

	result, err := rig.exec.Run(context.Background(), slot, in)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Status)
	require.Len(t, result.Execution, 2)
	assert.Contains(t, result.Execution[0].Stdout, "first")
	assert.Contains(t, result.Execution[1].Stdout, "second")
}

func TestRunStopsOnFirstFailureUnlessIgnored(t *testing.T) {
	rig := requireRig(t)
	slot, err := rig.pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer rig.pool.Release(slot)

	in := Input{Commands: []runrequest.Command{
		{Command: "false", Timeout: 5 * time.Second},
		{Command: "echo should-not-run", Timeout: 5 * time.Second},
	}}

	result, err := rig.exec.Run(context.Background(), slot, in)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Status)
	assert.Len(t, result.Execution, 1)
}

func TestRunIgnoreFailurePrefixContinues(t *testing.T) {
	rig := requireRig(t)
	slot, err := rig.pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer rig.pool.Release(slot)

	in := Input{Commands: []runrequest.Command{
		{Command: "false", Timeout: 5 * time.Second, IgnoreFailure: true},
		{Command: "echo after", Timeout: 5 * time.Second},
	}}

	result, err := rig.exec.Run(context.Background(), slot, in)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Status)
	assert.Len(t, result.Execution, 2)
}

func TestRunTimeoutProducesExactMessage(t *testing.T) {
	rig := requireRig(t)
	slot, err := rig.pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer rig.pool.Release(slot)

	in := Input{Commands: []runrequest.Command{
		{Command: "sleep 5", Timeout: 200 * time.Millisecond},
	}}

	result, err := rig.exec.Run(context.Background(), slot, in)
	require.NoError(t, err)
	assert.Equal(t, -2, result.Status)
	assert.Equal(t, "command timed out after 0.2 seconds", result.Execution[0].Stderr)
}

func TestRunSaveProducesSnapshot(t *testing.T) {
	rig := requireRig(t)
	slot, err := rig.pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer rig.pool.Release(slot)

	in := Input{
		Commands: []runrequest.Command{{Command: "echo hi > /home/docker/out.txt", Timeout: 5 * time.Second}},
		Save:     true,
	}

	result, err := rig.exec.Run(context.Background(), slot, in)
	require.NoError(t, err)
	require.NotNil(t, result.Environment)
	require.NotNil(t, result.Expire)

	content, err := rig.store.ExtractFile(*result.Environment, "out.txt")
	require.NoError(t, err)
	assert.Contains(t, string(content), "hi")
}

func TestRunHarvestsResultFile(t *testing.T) {
	rig := requireRig(t)
	slot, err := rig.pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer rig.pool.Release(slot)

	in := Input{
		Commands:   []runrequest.Command{{Command: "echo payload > /home/docker/result.txt", Timeout: 5 * time.Second}},
		ResultPath: "result.txt",
	}

	result, err := rig.exec.Run(context.Background(), slot, in)
	require.NoError(t, err)
	require.NotNil(t, result.Result)
	assert.Contains(t, *result.Result, "payload")
}
