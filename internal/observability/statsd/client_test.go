package statsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTags(t *testing.T) {
	got := formatTags(
		map[string]string{"service": "worker", " env ": "prod"},
		map[string]string{"platform": "LINKEDIN", "result": "success"},
	)
	assert.Equal(t, "|#env:prod,platform:LINKEDIN,result:success,service:worker", got)

	assert.Empty(t, formatTags(nil, nil))
	assert.Empty(t, formatTags(map[string]string{" ": "dropped"}, nil))
}

func TestFormatTagsLocalOverridesGlobal(t *testing.T) {
	got := formatTags(
		map[string]string{"result": "noop"},
		map[string]string{"result": "error"},
	)
	assert.Equal(t, "|#result:error", got)
}

func TestNormalizeMetricName(t *testing.T) {
	assert.Equal(t, "publish.attempt", normalizeMetricName(" publish.attempt "))
	assert.Equal(t, "publish_rate.window", normalizeMetricName("publish rate.window"))
	assert.Equal(t, "a.b", normalizeMetricName(".a..b."))
	assert.Empty(t, normalizeMetricName("  "))
}

func TestNilAndDisabledClientsAreSafe(t *testing.T) {
	var nilClient *Client
	nilClient.Count("x", 1, nil)
	nilClient.Gauge("x", 1, nil)
	nilClient.Timing("x", time.Second, nil)
	assert.False(t, nilClient.Enabled())
	assert.NoError(t, nilClient.Close())

	disabled, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:8125"})
	require.NoError(t, err)
	disabled.Count("x", 1, nil)
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.Close())

	// Enabled but no address also disables emission.
	noAddr, err := NewClient(Config{Enabled: true, Address: "  "})
	require.NoError(t, err)
	assert.False(t, noAddr.Enabled())
}

func TestClientEmitsLineProtocol(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "socialsync.",
		GlobalTags: map[string]string{"service": "worker"},
	})
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Enabled())

	client.Count("publish.attempt", 1, map[string]string{"result": "success"})

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	line := string(buf[:n])
	assert.True(t, strings.HasPrefix(line, "socialsync.publish.attempt:1|c"), "line: %s", line)
	assert.Contains(t, line, "|#result:success,service:worker")
}
