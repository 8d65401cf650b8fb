package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelswarm.ai/internal/journal"
	"voxelswarm.ai/internal/logging"
)

func TestCheckConfig_PrintsEffectiveConfigAndWarnings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capacity: 0\nserverHost: game.local\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, checkConfig(&out, path))

	s := out.String()
	assert.Contains(t, s, "capacity: 3")
	assert.Contains(t, s, "serverHost: game.local")
	assert.Contains(t, s, "warning: capacity=0 out of range, using 3")
	assert.NotContains(t, s, "# config ok")
}

func TestCheckConfig_MissingFileUsesDefaults(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, checkConfig(&out, filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Contains(t, out.String(), "tickIntervalMs: 800")
	assert.Contains(t, out.String(), "# config ok")
}

func TestPrintJournal_Filters(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir, "", logging.Discard())
	require.NoError(t, err)
	j.Record(journal.Event{Kind: journal.KindSpawned, Agent: "Alpha"})
	j.Record(journal.Event{Kind: journal.KindRetryScheduled, Agent: "Alpha", Cause: "network", Attempt: 1, DelayMs: 15000})
	j.Record(journal.Event{Kind: journal.KindSpawned, Agent: "Bravo"})
	require.NoError(t, j.Close())

	var out bytes.Buffer
	require.NoError(t, printJournal(&out, dir, journal.Filter{Agent: "Alpha"}))
	s := out.String()
	assert.Contains(t, s, "agent=Alpha")
	assert.Contains(t, s, "cause=network attempt=1 delay=15s")
	assert.NotContains(t, s, "Bravo")

	out.Reset()
	require.NoError(t, printJournal(&out, dir, journal.Filter{Kind: journal.KindRemoved}))
	assert.Contains(t, out.String(), "no events")
}

func TestPrintCounts(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir, "index.db", logging.Discard())
	require.NoError(t, err)
	j.Record(journal.Event{Kind: journal.KindSpawned, Agent: "Alpha"})
	j.Record(journal.Event{Kind: journal.KindSpawned, Agent: "Bravo"})
	j.Record(journal.Event{Kind: journal.KindRemoved, Agent: "Bravo"})
	require.NoError(t, j.Close())

	var out bytes.Buffer
	require.NoError(t, printCounts(context.Background(), &out, filepath.Join(dir, "index.db"), ""))
	assert.Contains(t, out.String(), "agent_removed")
	assert.Contains(t, out.String(), "agent_spawned")
	assert.Regexp(t, `agent_spawned\s+2`, out.String())
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "check-config", "journal"}, names)
}
