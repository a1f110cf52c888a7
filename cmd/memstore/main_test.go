package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/memstore/pkg/core"
	"github.com/oceanbase/memstore/pkg/lifecycle"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "memstore.yaml")
	body := fmt.Sprintf(`
embedder:
  provider: hash
  dimensions: 32
vector_index:
  backend: memory
store:
  provider: sqlite
  config:
    db_path: %s
    collection_name: memories
log:
  level: error
  handler: json
%s`, filepath.Join(dir, "memstore.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "sweep", "check"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestSweepCommand(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execute(t, "sweep", "--config", cfgPath)
	require.NoError(t, err)

	var report lifecycle.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Errors)
}

func TestSweepCommandSeesPersistedMemories(t *testing.T) {
	cfgPath := writeConfig(t, "")
	cfg, err := core.LoadConfigFromFile(cfgPath)
	require.NoError(t, err)

	client, err := core.NewClient(cfg)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := client.Add(context.Background(), "User likes coffee", core.WithUserID("A"))
		require.NoError(t, err)
	}
	require.NoError(t, client.Close())

	out, err := execute(t, "sweep", "--config", cfgPath)
	require.NoError(t, err)

	var report lifecycle.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Consolidated)
}

func TestSweepCommandWithRedisLease(t *testing.T) {
	mr := miniredis.RunT(t)
	cfgPath := writeConfig(t, fmt.Sprintf(`lifecycle:
  soft_age_days: 30
  soft_threshold: 0.3
  hard_age_days: 90
  retention_days: 30
  consolidation_threshold: 0.85
  lease_backend: redis
  redis_addr: %s
`, mr.Addr()))

	_, err := execute(t, "sweep", "--config", cfgPath)
	require.NoError(t, err)
	assert.False(t, mr.Exists(lifecycle.DefaultLeaseKey), "lease released after the sweep")
}

func TestCheckCommand(t *testing.T) {
	cfgPath := writeConfig(t, "")

	out, err := execute(t, "check", "--config", cfgPath, "--repair=false")
	require.NoError(t, err)

	var report core.ConsistencyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Records)
	assert.Zero(t, report.Repaired)
}

func TestInvalidConfigFails(t *testing.T) {
	cfgPath := writeConfig(t, `lifecycle:
  soft_age_days: 90
  hard_age_days: 30
  consolidation_threshold: 0.85
`)

	_, err := execute(t, "sweep", "--config", cfgPath)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
