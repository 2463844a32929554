package hostinfo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sandboxd/internal/config"
)

func TestCpusetCountSingleCPUs(t *testing.T) {
	assert.Equal(t, float64(1), cpusetCount("0"))
	assert.Equal(t, float64(2), cpusetCount("0,2"))
}

func TestCpusetCountRanges(t *testing.T) {
	assert.Equal(t, float64(3), cpusetCount("0-2"))
	assert.Equal(t, float64(5), cpusetCount("0-2,4,6-6"))
}

func TestCpusetCountEmpty(t *testing.T) {
	assert.Equal(t, float64(0), cpusetCount(""))
}

func TestCpusetCountMalformedTokenCountsAsOne(t *testing.T) {
	assert.Equal(t, float64(1), cpusetCount("x"))
}

func TestNewDefaultsSampleWindow(t *testing.T) {
	p := New(config.Config{}, nil, 0)
	assert.Equal(t, 2*time.Second, p.sampleWindow)
}

func TestNewKeepsExplicitSampleWindow(t *testing.T) {
	p := New(config.Config{}, nil, 5*time.Second)
	assert.Equal(t, 5*time.Second, p.sampleWindow)
}
