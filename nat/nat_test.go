package nat

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNone(t *testing.T) {
	n, err := Parse("none")
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = Parse("")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestParseExtIP(t *testing.T) {
	n, err := Parse("extip:203.0.113.9")
	require.NoError(t, err)
	require.NotNil(t, n)

	ip, err := n.ExternalIP()
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ip.String())
}

func TestParseExtIPRequiresAddress(t *testing.T) {
	_, err := Parse("extip")
	assert.Error(t, err)
}

func TestParseInvalidIP(t *testing.T) {
	_, err := Parse("extip:not-an-ip")
	assert.Error(t, err)
}

func TestParseUnknownMechanism(t *testing.T) {
	_, err := Parse("carrier-pigeon")
	assert.Error(t, err)
}

func TestParseAny(t *testing.T) {
	n, err := Parse("any")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Implements(t, (*Interface)(nil), n)
}

func TestExtIPMappingCallsAreNoops(t *testing.T) {
	n := ExtIP(net.ParseIP("198.51.100.2"))
	assert.NoError(t, n.AddMapping("UDP", 4001, 4001, "test", time.Minute))
	assert.NoError(t, n.DeleteMapping("UDP", 4001, 4001))
	assert.Contains(t, n.String(), "198.51.100.2")
}

func TestAutoDiscoverWithoutGatewayReportsError(t *testing.T) {
	n := Any()
	_, err := n.ExternalIP()
	assert.Error(t, err)
}
