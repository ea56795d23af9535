package peerstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-rumors/pkg/membership"
)

var (
	a = membership.Endpoint{IP: "10.0.0.1", Port: 1}
	b = membership.Endpoint{IP: "fe80::1", Port: 2}
	c = membership.Endpoint{IP: "10.0.0.3", Port: 3}
)

func TestSaveReplacesAndLoadFilters(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	now := time.Unix(1700000000, 0)
	require.NoError(t, s.Save(map[membership.Endpoint]time.Time{a: now, c: now}))
	require.NoError(t, s.Save(map[membership.Endpoint]time.Time{a: now, b: now.Add(-time.Hour)}))

	got, err := s.Load(time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got[a].Equal(now))
	assert.NotContains(t, got, c, "save must replace the previous view")

	got, err = s.Load(now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []membership.Endpoint{a}, keys(got))

	got, err = s.Load(time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []membership.Endpoint{a}, keys(got), "expired records are dropped on load")
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers")
	s, err := Open(path)
	require.NoError(t, err)
	seen := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Save(map[membership.Endpoint]time.Time{b: seen}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(seen.Add(-time.Second))
	require.NoError(t, err)
	require.Contains(t, got, b)
	assert.True(t, got[b].Equal(seen))
}

func TestVersionMismatchWipes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(map[membership.Endpoint]time.Time{a: time.Now()}))
	require.NoError(t, s.db.Put(versionKey, encodeVarint(version+1), nil))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func keys(m map[membership.Endpoint]time.Time) []membership.Endpoint {
	out := make([]membership.Endpoint, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
