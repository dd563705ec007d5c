package cli

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/stridehq/stridesync/internal/challenge"
	"github.com/stridehq/stridesync/internal/local"
)

// queuePending appends an event directly to the device queue, simulating a
// check-in recorded while offline.
func queuePending(t *testing.T, cfgPath, challengeID string) {
	t.Helper()

	var cfg struct {
		DevicePath string `yaml:"device_path"`
	}
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &cfg))

	db, err := local.Open(cfg.DevicePath)
	require.NoError(t, err)
	defer db.Close()

	queue := local.NewSQLiteQueue(db)
	ev := challenge.NewCheckInEvent("u1", challengeID, time.Now(), "", 0)
	require.NoError(t, queue.Append(context.Background(), ev))
}

func TestSyncCommand_DrainsQueue(t *testing.T) {
	cfgPath, remotePath := testEnv(t, "u1")
	seedChallenge(t, remotePath, "c1")
	queuePending(t, cfgPath, "c1")

	out, err := execute(t, "--config", cfgPath, "--format", "json", "sync")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), data["applied"])
	assert.Equal(t, float64(0), data["retained"])
}

func TestSyncCommand_EmptyQueue(t *testing.T) {
	cfgPath, _ := testEnv(t, "u1")

	out, err := execute(t, "--config", cfgPath, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "0 applied")
}

func TestQueueCommand_ListsPending(t *testing.T) {
	cfgPath, remotePath := testEnv(t, "u1")
	seedChallenge(t, remotePath, "c1")
	queuePending(t, cfgPath, "c1")

	out, err := execute(t, "--config", cfgPath, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "1 pending check-in(s)")
	assert.Contains(t, out, "c1")
}

func TestQueueCommand_Empty(t *testing.T) {
	cfgPath, _ := testEnv(t, "u1")

	out, err := execute(t, "--config", cfgPath, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty.")
}

func TestStatusCommand(t *testing.T) {
	cfgPath, remotePath := testEnv(t, "u1")
	seedChallenge(t, remotePath, "c1")
	queuePending(t, cfgPath, "c1")

	out, err := execute(t, "--config", cfgPath, "--format", "json", "status")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["connected"])
	assert.Equal(t, float64(1), data["pending"])
	assert.Equal(t, "u1", data["user"])
}
