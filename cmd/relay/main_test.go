package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/relay/store"
	"github.com/tailored-agentic-units/relay/trigger"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// writeStoreFixture creates a file store with one user and the given number
// of triggers, plus a config file pointing at it.
func writeStoreFixture(t *testing.T, triggers int) string {
	t.Helper()

	dir := t.TempDir()
	dataPath := filepath.Join(dir, "relay.toml")

	st := store.NewFileStore(dataPath, 100)
	ctx := context.Background()
	require.NoError(t, st.PutUser(ctx, store.User{
		ID:       42,
		Username: "streamer",
		Links:    []store.Link{{ID: 7, Keywords: []string{"开始"}}},
	}))

	now := time.Now()
	for i := range triggers {
		require.NoError(t, st.PersistTriggerEvent(ctx, 42, trigger.Event{
			Keyword:    "开始",
			Target:     7,
			SourceText: fmt.Sprintf("现在开始 %d", i),
			Timestamp:  now.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	require.NoError(t, st.Close())

	cfgPath := filepath.Join(dir, "config.json")
	cfg := fmt.Sprintf(`{"store": {"driver": "file", "path": %q}}`, dataPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return cfgPath
}

func TestHistoryTable(t *testing.T) {
	cfgPath := writeStoreFixture(t, 2)

	stdout, _, err := executeCLI(t, "--config", cfgPath, "history", "--user", "42")
	require.NoError(t, err)
	assert.Contains(t, stdout, "TIME")
	assert.Contains(t, stdout, "success")
	assert.Contains(t, stdout, "点击链接 #7")
}

func TestHistoryJSONRespectsLimit(t *testing.T) {
	cfgPath := writeStoreFixture(t, 3)

	stdout, _, err := executeCLI(t, "--config", cfgPath, "history", "--user", "42", "--limit", "2", "--json")
	require.NoError(t, err)

	var logs []store.LogRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &logs))
	require.Len(t, logs, 2)
	assert.Contains(t, logs[0].Details, "现在开始 2")
	assert.Contains(t, logs[1].Details, "现在开始 1")
}

func TestHistoryEmpty(t *testing.T) {
	cfgPath := writeStoreFixture(t, 0)

	stdout, _, err := executeCLI(t, "--config", cfgPath, "history", "--user", "42")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no records")
}

func TestHistoryRequiresUser(t *testing.T) {
	_, _, err := executeCLI(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s) \"user\" not set")
}

func TestStatsCountsToday(t *testing.T) {
	cfgPath := writeStoreFixture(t, 3)

	stdout, _, err := executeCLI(t, "--config", cfgPath, "stats", "--user", "42")
	require.NoError(t, err)
	assert.Equal(t, "triggers today: 3\n", stdout)
}

func TestStatsRejectsNonPositiveUser(t *testing.T) {
	cfgPath := writeStoreFixture(t, 0)

	_, _, err := executeCLI(t, "--config", cfgPath, "stats", "--user", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive user id")
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := executeCLI(t, "--config", filepath.Join(t.TempDir(), "absent.json"), "stats", "--user", "42")
	require.Error(t, err)
}

func TestEnvironmentSelectsStore(t *testing.T) {
	cfgPath := writeStoreFixture(t, 1)
	dataPath := filepath.Join(filepath.Dir(cfgPath), "relay.toml")

	t.Setenv("RELAY_STORE_DRIVER", "file")
	t.Setenv("RELAY_STORE_PATH", dataPath)

	stdout, _, err := executeCLI(t, "stats", "--user", "42")
	require.NoError(t, err)
	assert.Equal(t, "triggers today: 1\n", stdout)
}

func TestServeRejectsUnknownStore(t *testing.T) {
	_, _, err := executeCLI(t, "serve", "--store", "etcd")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidDriver)
}
