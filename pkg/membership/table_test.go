package membership

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{"10.0.0.1:9000", Endpoint{IP: "10.0.0.1", Port: 9000}, false},
		{" 10.0.0.1:9000 ", Endpoint{IP: "10.0.0.1", Port: 9000}, false},
		{"[::1]:13531", Endpoint{IP: "::1", Port: 13531}, false},
		{"10.0.0.1", Endpoint{}, true},
		{"10.0.0.1:x", Endpoint{}, true},
		{"10.0.0.1:70000", Endpoint{}, true},
		{":9000", Endpoint{}, true},
	}
	for _, c := range cases {
		got, err := ParseEndpoint(c.in)
		if c.wantErr {
			require.Error(t, err, c.in)
			assert.ErrorIs(t, err, ErrInvalidEndpoint)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got)
	}
	assert.Equal(t, "[::1]:13531", Endpoint{IP: "::1", Port: 13531}.String())
}

func TestTable_AddIsAddIfAbsent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl := NewTable(clock, nil)
	e := Endpoint{IP: "10.0.0.1", Port: 1000}

	require.True(t, tbl.Add(e))
	first, ok := tbl.LastSeen(e)
	require.True(t, ok)

	clock.Advance(time.Minute)
	require.False(t, tbl.Add(e))
	again, _ := tbl.LastSeen(e)
	assert.Equal(t, first, again, "re-adding a known endpoint must not refresh it")

	n := Endpoint{IP: "10.0.0.2", Port: 1000}
	require.True(t, tbl.Add(n))
	ts, _ := tbl.LastSeen(n)
	assert.Equal(t, clock.Now(), ts)
}

func TestTable_RemoveAllOnlyNamed(t *testing.T) {
	tbl := NewTable(nil, nil)
	a := Endpoint{IP: "10.0.0.1", Port: 1}
	b := Endpoint{IP: "10.0.0.2", Port: 2}
	c := Endpoint{IP: "10.0.0.3", Port: 3}
	tbl.AddAll([]Endpoint{a, b, c})

	removed := tbl.RemoveAll([]Endpoint{a, c, {IP: "10.9.9.9", Port: 9}}, EventLeave)
	assert.Equal(t, 2, removed)
	assert.ElementsMatch(t, []Endpoint{b}, tbl.Endpoints())
}

func TestTable_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl := NewTable(clock, nil)

	assert.Empty(t, tbl.Sweep(5*time.Minute), "sweeping an empty table is a no-op")

	old := Endpoint{IP: "10.0.0.1", Port: 1}
	tbl.Add(old)
	clock.Advance(4 * time.Minute)
	fresh := Endpoint{IP: "10.0.0.2", Port: 2}
	tbl.Add(fresh)
	clock.Advance(90 * time.Second)

	evicted := tbl.Sweep(5 * time.Minute)
	assert.Equal(t, []Endpoint{old}, evicted)
	assert.True(t, tbl.Contains(fresh))
	assert.False(t, tbl.Contains(old))
}

func TestTable_SweepKeeps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl := NewTable(clock, nil)
	self := Endpoint{IP: "10.0.0.100", Port: 100}
	peer := Endpoint{IP: "10.0.0.1", Port: 1}
	tbl.Touch(self)
	tbl.Add(peer)
	clock.Advance(time.Hour)

	assert.Equal(t, []Endpoint{peer}, tbl.Sweep(5*time.Minute, self))
	assert.True(t, tbl.Contains(self))
}

// A peer that keeps being re-announced is still swept: Add never refreshes a
// known entry.
func TestTable_ReannouncedPeerStillGoesStale(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl := NewTable(clock, nil)
	e := Endpoint{IP: "10.0.0.1", Port: 1}
	tbl.Add(e)
	for i := 0; i < 6; i++ {
		clock.Advance(time.Minute)
		tbl.Add(e)
	}
	assert.Equal(t, []Endpoint{e}, tbl.Sweep(5*time.Minute))
}

func TestTable_Events(t *testing.T) {
	var mu sync.Mutex
	var got []EventType
	tbl := NewTable(nil, func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})
	e := Endpoint{IP: "10.0.0.1", Port: 1}
	tbl.Add(e)
	tbl.Add(e)
	tbl.Remove(e, EventReported)
	tbl.Remove(e, EventReported)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{EventJoin, EventReported}, got)
}

func TestTable_ConcurrentUse(t *testing.T) {
	tbl := NewTable(nil, nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				e := Endpoint{IP: "10.0.0.1", Port: w*1000 + i}
				tbl.Add(e)
				_ = tbl.Endpoints()
				if i%3 == 0 {
					tbl.Remove(e, EventLeave)
				}
				tbl.Sweep(time.Hour)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, len(tbl.Endpoints()), tbl.Len())
}

func TestTable_TouchRefreshes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl := NewTable(clock, nil)
	self := Endpoint{IP: "10.0.0.1", Port: 1}

	assert.True(t, tbl.Touch(self))
	first, _ := tbl.LastSeen(self)
	clock.Advance(time.Minute)
	assert.False(t, tbl.Touch(self))
	second, _ := tbl.LastSeen(self)
	assert.Equal(t, time.Minute, second.Sub(first))
}
