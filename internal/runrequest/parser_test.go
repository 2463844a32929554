package runrequest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxd/internal/sandboxerr"
)

func TestParseStringCommands(t *testing.T) {
	body := []byte(`{"commands": ["echo hi", "echo bye"]}`)
	req, err := Parse(body, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, req.Commands, 2)
	assert.Equal(t, "echo hi", req.Commands[0].Command)
	assert.Equal(t, 5*time.Second, req.Commands[0].Timeout)
	assert.False(t, req.Commands[0].IgnoreFailure)
}

func TestParseObjectCommandWithTimeout(t *testing.T) {
	body := []byte(`{"commands": [{"command": "sleep 1", "timeout": 0.5}]}`)
	req, err := Parse(body, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, req.Commands, 1)
	assert.Equal(t, 500*time.Millisecond, req.Commands[0].Timeout)
}

func TestParseIgnoreFailurePrefix(t *testing.T) {
	body := []byte(`{"commands": ["-false", "echo after"]}`)
	req, err := Parse(body, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, req.Commands, 2)
	assert.True(t, req.Commands[0].IgnoreFailure)
	assert.Equal(t, "false", req.Commands[0].Command)
	assert.False(t, req.Commands[1].IgnoreFailure)
}

func TestParseEmptyCommandsRejected(t *testing.T) {
	_, err := Parse([]byte(`{"commands": []}`), 5*time.Second)
	require.Error(t, err)
	assert.IsType(t, &sandboxerr.BadRequestError{}, err)
}

func TestParseInvalidJSONRejected(t *testing.T) {
	_, err := Parse([]byte(`not json`), 5*time.Second)
	require.Error(t, err)
	assert.IsType(t, &sandboxerr.BadRequestError{}, err)
}

func TestParseBlankCommandTextRejected(t *testing.T) {
	_, err := Parse([]byte(`{"commands": ["   "]}`), 5*time.Second)
	require.Error(t, err)
}

func TestParseZeroTimeoutRejected(t *testing.T) {
	_, err := Parse([]byte(`{"commands": [{"command": "echo hi", "timeout": 0}]}`), 0)
	require.Error(t, err)
}

func TestParseTopLevelEnvironApplied(t *testing.T) {
	body := []byte(`{"commands": ["echo $FOO"], "environ": {"FOO": "bar", "N": 3}}`)
	req, err := Parse(body, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, req.Commands, 1)
	assert.Equal(t, "bar", req.Commands[0].Environ["FOO"])
	assert.Equal(t, "3", req.Commands[0].Environ["N"])
}

func TestParseEnvironRejectsNonScalarValue(t *testing.T) {
	body := []byte(`{"commands": ["echo hi"], "environ": {"FOO": [1,2,3]}}`)
	_, err := Parse(body, 5*time.Second)
	require.Error(t, err)
	assert.IsType(t, &sandboxerr.BadRequestError{}, err)
}

func TestParsePassesThroughResultSaveEnvironmentFields(t *testing.T) {
	body := []byte(`{"commands": ["echo hi"], "result_path": "out.txt", "save": true, "save_as": "fixed-id", "environment": "base-env"}`)
	req, err := Parse(body, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "out.txt", req.ResultPath)
	assert.True(t, req.Save)
	assert.Equal(t, "fixed-id", req.SaveAs)
	assert.Equal(t, "base-env", req.Environment)
}

func TestParseObjectCommandRequiresNonEmptyCommandField(t *testing.T) {
	_, err := Parse([]byte(`{"commands": [{"timeout": 1}]}`), 5*time.Second)
	require.Error(t, err)
}
