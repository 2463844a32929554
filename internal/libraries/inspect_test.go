package libraries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInspectDoesNotPanicAndFillsPathBinaries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	installed := Inspect(ctx)

	assert.NotNil(t, installed)
	assert.NotEmpty(t, installed.PathBin, "expected at least one binary reachable on $PATH in the test environment")
}

func TestSplitNonEmptyTrimsBlankLines(t *testing.T) {
	out := splitNonEmpty("a\n\n  \nb\nc  \n")
	assert.Equal(t, []string{"a", "b", "c"}, out)
}
