package coord

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelswarm.ai/internal/capability"
)

var base = time.Unix(1000, 0)

func hostile(name string, x float64) capability.Entity {
	return capability.Entity{ID: "e-" + name, Name: name, Kind: "PLAYER", Position: capability.Vec3{X: x}}
}

func report(reporter string, at time.Time, cands ...capability.Entity) Report {
	return Report{Reporter: reporter, At: at, Candidates: cands}
}

func TestReportSighting_NearestWins(t *testing.T) {
	c := New(Options{})
	got, ok := c.ReportSighting(report("a", base, hostile("far", 20), hostile("near", 4)))
	require.True(t, ok)
	assert.Equal(t, "near", got.Identity)
	assert.Equal(t, "e-near", got.EntityID)
	assert.Equal(t, "a", got.Reporter)
	assert.InDelta(t, 4, got.Distance, 1e-9)
}

func TestReportSighting_IgnoresAgentsAndOutOfRange(t *testing.T) {
	c := New(Options{TargetKind: func(k string) bool { return k == "PLAYER" }})
	c.Register("friend")

	_, ok := c.ReportSighting(report("a", base,
		hostile("friend", 1),
		capability.Entity{ID: "m1", Name: "zombie", Kind: "MOB", Position: capability.Vec3{X: 2}},
		hostile("distant", 30),
		hostile("a", 1),
	))
	assert.False(t, ok)
	_, ok = c.Current()
	assert.False(t, ok)
}

// Two simultaneous reports resolve to the globally nearest candidate
// regardless of arrival order.
func TestReportSighting_OrderIndependent(t *testing.T) {
	reports := []Report{
		report("alpha", base, hostile("h1", 9)),
		report("bravo", base.Add(10*time.Millisecond), hostile("h2", 3)),
		report("charlie", base.Add(20*time.Millisecond), hostile("h3", 6), hostile("h2", 12)),
	}
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		t.Run(fmt.Sprint(p), func(t *testing.T) {
			c := New(Options{})
			for _, i := range p {
				c.ReportSighting(reports[i])
			}
			got, ok := c.Current()
			require.True(t, ok)
			assert.Equal(t, "h2", got.Identity)
			assert.Equal(t, "bravo", got.Reporter)
		})
	}
}

func TestReportSighting_TieBrokenByReporter(t *testing.T) {
	for _, order := range [][2]string{{"anna", "bert"}, {"bert", "anna"}} {
		c := New(Options{})
		for _, who := range order {
			target := "h-" + who
			c.ReportSighting(report(who, base, hostile(target, 5)))
		}
		got, ok := c.Current()
		require.True(t, ok)
		assert.Equal(t, "anna", got.Reporter)
		assert.Equal(t, "h-anna", got.Identity)
	}
}

func TestReportSighting_SameHostileNearerReporterWins(t *testing.T) {
	c := New(Options{})
	c.Register("A")
	c.Register("B")
	steve := func(x float64) capability.Entity { return hostile("Steve", x) }

	c.ReportSighting(Report{Reporter: "B", From: capability.Vec3{X: -10}, At: base, Candidates: []capability.Entity{steve(0)}})
	c.ReportSighting(Report{Reporter: "A", From: capability.Vec3{X: -2}, At: base, Candidates: []capability.Entity{steve(0)}})

	got, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "Steve", got.Identity)
	assert.Equal(t, "A", got.Reporter)
	assert.InDelta(t, 2, got.Distance, 1e-9)
}

func TestReportSighting_UnconfirmedTargetYields(t *testing.T) {
	c := New(Options{ConfirmWindow: 800 * time.Millisecond})
	c.ReportSighting(report("a", base, hostile("close", 1)))

	got, _ := c.ReportSighting(report("b", base.Add(500*time.Millisecond), hostile("other", 10)))
	assert.Equal(t, "close", got.Identity)

	// Nobody has seen "close" for longer than the window.
	got, _ = c.ReportSighting(report("b", base.Add(900*time.Millisecond), hostile("other", 10)))
	assert.Equal(t, "other", got.Identity)
	assert.Equal(t, "b", got.Reporter)
}

func TestReportSighting_SteadyReportersKeepTarget(t *testing.T) {
	changes := 0
	c := New(Options{ConfirmWindow: 1600 * time.Millisecond, OnChange: func(Change) { changes++ }})
	tick := 800 * time.Millisecond
	for i := 0; i < 10; i++ {
		at := base.Add(time.Duration(i) * tick)
		c.ReportSighting(report("b", at, hostile("far", 20)))
		c.ReportSighting(report("a", at.Add(10*time.Millisecond), hostile("near", 2)))

		got, ok := c.Current()
		require.True(t, ok)
		assert.Equal(t, "near", got.Identity, "tick %d", i)
	}
	// Acquired from b's first report, taken over by a once, then stable.
	assert.Equal(t, 2, changes)
}

func TestReportSighting_ArrivalOrderAcrossTicks(t *testing.T) {
	near := report("a", base.Add(790*time.Millisecond), hostile("near", 2))
	far := report("b", base.Add(810*time.Millisecond), hostile("far", 20))
	for _, order := range [][]Report{{near, far}, {far, near}} {
		c := New(Options{ConfirmWindow: 800 * time.Millisecond})
		for _, r := range order {
			c.ReportSighting(r)
		}
		got, ok := c.Current()
		require.True(t, ok)
		assert.Equal(t, "near", got.Identity)
		assert.Equal(t, "a", got.Reporter)
	}
}

func TestReportSighting_ReporterUpdatesItsDistance(t *testing.T) {
	c := New(Options{})
	c.ReportSighting(report("a", base, hostile("x", 2)))

	// The target walked away from its reporter.
	got, _ := c.ReportSighting(report("a", base.Add(100*time.Millisecond), hostile("x", 22)))
	assert.Equal(t, "x", got.Identity)
	assert.InDelta(t, 22, got.Distance, 1e-9)

	got, _ = c.ReportSighting(report("b", base.Add(200*time.Millisecond), hostile("y", 20)))
	assert.Equal(t, "y", got.Identity)
	assert.Equal(t, "b", got.Reporter)
}

func TestReportSighting_RefreshByNonNearestReporter(t *testing.T) {
	c := New(Options{})
	c.ReportSighting(report("a", base, hostile("target", 2)))

	// b's nearest loses on distance but b still sees the target.
	later := base.Add(100 * time.Millisecond)
	got, _ := c.ReportSighting(report("b", later, hostile("rival", 3), capability.Entity{ID: "e-target", Name: "target", Kind: "PLAYER", Position: capability.Vec3{X: 7}}))
	assert.Equal(t, "target", got.Identity)
	assert.Equal(t, later, got.LastSeen)
	assert.Equal(t, capability.Vec3{X: 7}, got.Position)
}

func TestExpireIfStale(t *testing.T) {
	var changes []Change
	c := New(Options{Timeout: 15 * time.Second, OnChange: func(ch Change) { changes = append(changes, ch) }})
	c.ReportSighting(report("a", base, hostile("h", 5)))

	assert.False(t, c.ExpireIfStale(base.Add(15*time.Second)))
	_, ok := c.Current()
	assert.True(t, ok)

	// A refresh from any agent pushes the deadline out.
	c.ReportSighting(report("z", base.Add(10*time.Second), hostile("h", 20)))
	assert.False(t, c.ExpireIfStale(base.Add(24*time.Second)))

	assert.True(t, c.ExpireIfStale(base.Add(25*time.Second+time.Millisecond)))
	_, ok = c.Current()
	assert.False(t, ok)
	assert.False(t, c.ExpireIfStale(base.Add(time.Hour)))

	require.Len(t, changes, 2)
	assert.Nil(t, changes[0].Prev)
	assert.Equal(t, "h", changes[0].Next.Identity)
	assert.Equal(t, "h", changes[1].Prev.Identity)
	assert.Nil(t, changes[1].Next)
}

func TestReportSighting_StaleClaimReplaced(t *testing.T) {
	c := New(Options{Timeout: time.Second, ConfirmWindow: time.Hour})
	c.ReportSighting(report("a", base, hostile("old", 1)))
	got, _ := c.ReportSighting(report("b", base.Add(2*time.Second), hostile("new", 20)))
	assert.Equal(t, "new", got.Identity)
}

func TestRegistry(t *testing.T) {
	c := New(Options{})
	c.Register("b")
	c.Register("a")
	assert.True(t, c.IsAgent("a"))
	assert.Equal(t, []string{"a", "b"}, c.Agents())
	c.Unregister("a")
	assert.False(t, c.IsAgent("a"))
	assert.Equal(t, []string{"b"}, c.Agents())
}

func TestReportSighting_ConcurrentConverges(t *testing.T) {
	c := New(Options{ConfirmWindow: time.Hour})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := fmt.Sprintf("agent-%02d", i)
			c.ReportSighting(report(who, base, hostile(fmt.Sprintf("h%02d", i), float64(5+i%7))))
		}(i)
	}
	wg.Wait()
	got, ok := c.Current()
	require.True(t, ok)
	assert.InDelta(t, 5, got.Distance, 1e-9)
	assert.Equal(t, "agent-00", got.Reporter)
}

func TestClear(t *testing.T) {
	c := New(Options{})
	c.ReportSighting(report("a", base, hostile("h", 1)))
	c.Clear()
	_, ok := c.Current()
	assert.False(t, ok)
}
