package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_StampsAndFilters(t *testing.T) {
	m := NewMemory()
	m.Record(Event{Kind: KindSpawned, Agent: "a"})
	m.Record(Event{Kind: KindRetryScheduled, Agent: "a", Attempt: 1, DelayMs: 1500})
	m.Record(Event{Kind: KindSpawned, Agent: "b"})

	all := m.Events()
	require.Len(t, all, 3)
	for _, e := range all {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Time.IsZero())
	}
	assert.Equal(t, 2, m.Count(KindSpawned))
	retries := m.Filter(KindRetryScheduled)
	require.Len(t, retries, 1)
	assert.Equal(t, 1500*time.Millisecond, retries[0].Delay())
}

func TestMulti_SharesOneID(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	Multi{a, nil, b}.Record(Event{Kind: KindRemoved})
	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, a.Events()[0].ID, b.Events()[0].ID)
}

func TestWriter_RoundTripAndHourlyRotation(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	require.NoError(t, w.Write(stamp(Event{Kind: KindSpawned, Agent: "FrostRaven1"})))
	require.NoError(t, w.Write(stamp(Event{Kind: KindConnected, Agent: "FrostRaven1"})))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, w.Write(stamp(Event{Kind: KindDisconnected, Agent: "FrostRaven1", Cause: "network"})))
	require.NoError(t, w.Close())

	_, err := os.Stat(filepath.Join(dir, "journal-2024-05-01-10.jsonl.zst"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "journal-2024-05-01-11.jsonl.zst"))
	require.NoError(t, err)

	evs, err := ReadDir(dir, Filter{})
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, KindSpawned, evs[0].Kind)
	assert.Equal(t, KindDisconnected, evs[2].Kind)
	assert.Equal(t, "network", evs[2].Cause)

	only, err := ReadDir(dir, Filter{Kind: KindConnected})
	require.NoError(t, err)
	require.Len(t, only, 1)
}

func TestWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewWriter(dir)
		w.now = func() time.Time { return clock }
		require.NoError(t, w.Write(stamp(Event{Kind: KindSpawned, Attempt: i})))
		require.NoError(t, w.Close())
	}
	evs, err := ReadDir(dir, Filter{})
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

func TestJournal_WithIndex(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, "index.sqlite", nil)
	require.NoError(t, err)
	require.NotNil(t, j.Index())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent := "a"
			if i%2 == 1 {
				agent = "b"
			}
			j.Record(Event{Kind: KindRetryScheduled, Agent: agent, Attempt: i})
		}(i)
	}
	wg.Wait()
	j.Record(Event{Kind: KindTargetAcquired, Target: "Steve"})

	idx := j.Index()
	require.NoError(t, j.w.Close())
	require.NoError(t, idx.Close())

	db, err := OpenSQLite(filepath.Join(dir, "index.sqlite"))
	require.NoError(t, err)
	defer db.Close()
	counts, err := db.CountByKind(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 20, counts[KindRetryScheduled])
	assert.Equal(t, 1, counts[KindTargetAcquired])

	perAgent, err := db.CountByKind(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 10, perAgent[KindRetryScheduled])

	evs, err := ReadDir(dir, Filter{Agent: "a"})
	require.NoError(t, err)
	assert.Len(t, evs, 10)
}

func TestSQLiteIndex_QueueDrops(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan Event, 1)}
	s.Record(Event{Kind: KindSpawned})
	s.Record(Event{Kind: KindSpawned})
	s.Record(Event{Kind: KindSpawned})
	assert.EqualValues(t, 2, s.Dropped())
}

func TestOpenSQLite_RejectsIncompatibleTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE events (id TEXT PRIMARY KEY, at TEXT, kind TEXT, agent TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenSQLite(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prepare event insert")
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl.zst"), Filter{})
	assert.Error(t, err)
}
