package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrings(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldVersion, oldCommit, oldDate })

	Version, GitCommit, BuildDate = "v0.3.0", "abc1234", "2025-05-01"

	assert.Equal(t, "v0.3.0 (abc1234)", String())
	assert.Equal(t, "v0.3.0 (abc1234) built 2025-05-01 with "+runtime.Version(), Full())
	assert.Equal(t, "shopwalk/v0.3.0", UserAgent())
	assert.Equal(t, Info{Version: "v0.3.0", GitCommit: "abc1234", BuildDate: "2025-05-01", GoVersion: runtime.Version()}, GetInfo())
}
