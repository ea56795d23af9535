package wire

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirimatin/go-rumors/pkg/membership"
)

func endpoints(n int) []membership.Endpoint {
	out := make([]membership.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, membership.Endpoint{IP: fmt.Sprintf("10.0.%d.%d", i/250, i%250+1), Port: 20000 + i})
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	for _, kind := range []Kind{Join, Leave} {
		for _, n := range []int{0, 1, 7, MaxEndpoints} {
			in := Message{Kind: kind, Endpoints: endpoints(n)}
			b, err := Encode(in)
			require.NoError(t, err)

			out, err := Decode(b)
			require.NoError(t, err, "kind=%v n=%d", kind, n)
			assert.Equal(t, kind, out.Kind)
			assert.ElementsMatch(t, in.Endpoints, out.Endpoints)
		}
	}
}

func TestRoundTripIPv6(t *testing.T) {
	in := Message{Kind: Join, Endpoints: []membership.Endpoint{{IP: "fe80::1ff:fe23:4567:890a", Port: 13531}}}
	b, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeCapsEndpoints(t *testing.T) {
	b, err := Encode(Message{Kind: Join, Endpoints: endpoints(150)})
	require.NoError(t, err)
	out, err := Decode(b)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out.Endpoints), MaxEndpoints)
	assert.Len(t, out.Endpoints, MaxEndpoints)
	assert.Less(t, len(b), MaxDatagram)
}

func TestLayout(t *testing.T) {
	b, err := Encode(Message{Kind: Leave, Endpoints: []membership.Endpoint{{IP: "1.2.3.4", Port: 258}}})
	require.NoError(t, err)
	want := []byte{
		0x00, 'L',
		0x00, 0x07, '1', '.', '2', '.', '3', '.', '4',
		0x00, 0x00, 0x01, 0x02,
		0x00, 0x00,
	}
	assert.Equal(t, want, b)
}

func TestReadConsumesExactlyOneMessage(t *testing.T) {
	first, err := Encode(Message{Kind: Join, Endpoints: endpoints(3)})
	require.NoError(t, err)
	second, err := Encode(Message{Kind: Leave, Endpoints: endpoints(1)})
	require.NoError(t, err)

	r := bytes.NewReader(append(append([]byte{}, first...), second...))
	m1, err := Read(r)
	require.NoError(t, err)
	assert.Equal(t, Join, m1.Kind)
	m2, err := Read(r)
	require.NoError(t, err)
	assert.Equal(t, Leave, m2.Kind)
	assert.Len(t, m2.Endpoints, 1)
}

func TestDecodeMalformed(t *testing.T) {
	full, err := Encode(Message{Kind: Join, Endpoints: endpoints(2)})
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":             {},
		"half kind":         {0x00},
		"unknown kind":      {0x00, 'X', 0x00, 0x00},
		"no terminator":     full[:len(full)-2],
		"truncated ip":      {0x00, 'J', 0x00, 0x09, '1', '.'},
		"truncated port":    {0x00, 'J', 0x00, 0x01, '1', 0x00, 0x00},
		"negative port":     {0x00, 'J', 0x00, 0x01, '1', 0xff, 0xff, 0xff, 0xff, 0x00, 0x00},
		"dangling last one": full[:len(full)-3],
	}
	for name, b := range cases {
		_, err := Decode(b)
		require.Error(t, err, name)
		var me *MalformedMessageError
		assert.True(t, errors.As(err, &me), "%s: %v", name, err)
	}
}

func TestEncodeRejectsUnknownKind(t *testing.T) {
	_, err := Encode(Message{Kind: Kind('Q')})
	require.Error(t, err)
	_, err = Encode(Message{Kind: Join, Endpoints: []membership.Endpoint{{Port: 1}}})
	require.Error(t, err)
}
