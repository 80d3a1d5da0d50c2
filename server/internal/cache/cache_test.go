package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fleetscore/fleetscore/pkg/types"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func score(id string, weighted float64) types.Score {
	return types.Score{DeviceID: id, WeightedScore: weighted}
}

func TestPutAndFresh(t *testing.T) {
	c := New[types.Score]("scores", 5*time.Minute)
	c.SetClock(fixedClock(base))
	c.Put("bot-1", score("bot-1", 88))

	s, ok := c.Fresh("bot-1")
	if !ok {
		t.Fatal("Fresh: expected entry, got none")
	}
	if s.WeightedScore != 88 {
		t.Errorf("WeightedScore: got %v, want 88", s.WeightedScore)
	}
}

func TestFresh_ExpiredButGetStillReturns(t *testing.T) {
	c := New[types.Score]("scores", 5*time.Minute)
	c.SetClock(fixedClock(base.Add(-6 * time.Minute)))
	c.Put("bot-1", score("bot-1", 70))

	c.SetClock(fixedClock(base))
	if _, ok := c.Fresh("bot-1"); ok {
		t.Error("Fresh returned an expired entry")
	}
	e, ok := c.Get("bot-1")
	if !ok || e.Value.WeightedScore != 70 {
		t.Errorf("Get on expired entry: got %+v, %v", e, ok)
	}
	if !e.UpdatedAt.Equal(base.Add(-6 * time.Minute)) {
		t.Errorf("UpdatedAt: got %v", e.UpdatedAt)
	}
}

func TestPut_Overwrites(t *testing.T) {
	c := New[types.Score]("scores", 5*time.Minute)
	c.Put("bot", score("bot", 50))
	c.Put("bot", score("bot", 90))

	s, ok := c.Fresh("bot")
	if !ok || s.WeightedScore != 90 {
		t.Errorf("after overwrite: got %+v, %v", s, ok)
	}
}

func TestList_ExcludesStaleSorted(t *testing.T) {
	c := New[types.Score]("scores", 5*time.Minute)

	c.SetClock(fixedClock(base.Add(-10 * time.Minute)))
	c.Put("old", score("old", 1))

	c.SetClock(fixedClock(base))
	c.Put("zeta", score("zeta", 2))
	c.Put("alpha", score("alpha", 3))

	entries := c.List()
	if len(entries) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(entries))
	}
	if entries[0].Key != "alpha" || entries[1].Key != "zeta" {
		t.Errorf("order: %s, %s", entries[0].Key, entries[1].Key)
	}
	if n := c.Count(); n != 3 {
		t.Errorf("Count includes stale: got %d, want 3", n)
	}
}

func TestEvict_RemovesStale(t *testing.T) {
	c := New[types.FleetSnapshot]("fleet", 5*time.Minute)

	c.SetClock(fixedClock(base.Add(-10 * time.Minute)))
	c.Put("a", types.FleetSnapshot{})
	c.Put("b", types.FleetSnapshot{})

	c.SetClock(fixedClock(base))
	c.Put("live", types.FleetSnapshot{})

	if removed := c.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if c.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", c.Count())
	}
	if removed := c.Evict(base); removed != 0 {
		t.Errorf("second Evict: removed %d, want 0", removed)
	}
}

func TestDelete(t *testing.T) {
	c := New[int]("ints", time.Minute)
	c.Put("k", 1)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("entry still present after Delete")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := New[int]("ints", time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	c := New[types.Score]("scores", 5*time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			c.Put("bot", score("bot", 1))
		}()
		go func() {
			defer wg.Done()
			c.List()
		}()
		go func() {
			defer wg.Done()
			c.Fresh("bot")
		}()
	}
	wg.Wait()
	if c.Count() != 1 {
		t.Errorf("Count: got %d, want 1", c.Count())
	}
}
