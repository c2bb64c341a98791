package workflows

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/worker"
)

// historyDir resolves the history fixtures relative to this file so the
// test works from any working directory.
func historyDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "testdata", "workflow_histories")
}

// TestReplayWorkflowHistory replays every exported history in
// testdata/workflow_histories through the registered workflows. A
// non-deterministic change to workflow code fails here.
//
// Export a history with orchctl or the temporal CLI:
//
//	orchctl runs history <workflow_id> > testdata/workflow_histories/<name>.json
//	temporal workflow show --workflow-id <workflow_id> --output json > testdata/workflow_histories/<name>.json
func TestReplayWorkflowHistory(t *testing.T) {
	dir := historyDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Skipf("cannot read history directory %s: %v", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		t.Skip("no workflow histories in testdata/workflow_histories")
	}

	for _, path := range files {
		name := filepath.Base(path)
		t.Run(name, func(t *testing.T) {
			replayer := worker.NewWorkflowReplayer()
			Register(replayer)

			err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, path)
			require.NoError(t, err, "replay of %s diverged from the current workflow code", name)
		})
	}
}
