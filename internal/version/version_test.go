package version_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rhoffman0214/BobsComponents/internal/version"
)

func TestGet(t *testing.T) {
	info := version.Get()

	assert.Equal(t, version.Version, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Contains(t, info.String(), "commit "+version.GitCommit)
}
