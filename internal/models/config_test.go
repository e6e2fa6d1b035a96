package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	for _, valid := range []string{"vless", "vmess", "shadowsocks"} {
		p, err := ParseProtocol(valid)
		require.NoError(t, err)
		assert.Equal(t, Protocol(valid), p)
	}

	for _, invalid := range []string{"", "socks5", "VLESS", "trojan"} {
		_, err := ParseProtocol(invalid)
		assert.Error(t, err, "protocol %q", invalid)
	}
}

func TestConfigStatusValid(t *testing.T) {
	for _, s := range []ConfigStatus{ConfigStatusActive, ConfigStatusExpired, ConfigStatusDisabled, ConfigStatusPendingDeletion} {
		assert.True(t, s.Valid())
	}
	assert.False(t, ConfigStatus("deleted").Valid())
	assert.False(t, ConfigStatus("").Valid())
}

func TestConfigExpiredAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.False(t, (&Config{}).ExpiredAt(now), "no expiry means never expires")
	assert.True(t, (&Config{ExpiresAt: &past}).ExpiredAt(now))
	assert.False(t, (&Config{ExpiresAt: &future}).ExpiredAt(now))
	assert.False(t, (&Config{ExpiresAt: &now}).ExpiredAt(now), "boundary instant is not yet expired")
}

func TestConfigOverQuota(t *testing.T) {
	quota := int64(1000)

	assert.False(t, (&Config{UsedBytes: 1 << 40}).OverQuota(), "no quota means unlimited")
	assert.False(t, (&Config{QuotaBytes: &quota, UsedBytes: 999}).OverQuota())
	assert.True(t, (&Config{QuotaBytes: &quota, UsedBytes: 1000}).OverQuota(), "reaching the quota counts as over")
	assert.True(t, (&Config{QuotaBytes: &quota, UsedBytes: 1001}).OverQuota())
}

func TestServerBaseURL(t *testing.T) {
	srv := &Server{Host: "gw.example.com", Port: 2053}
	assert.Equal(t, "http://gw.example.com:2053", srv.BaseURL())

	srv.BasePath = "/panel/"
	assert.Equal(t, "http://gw.example.com:2053/panel", srv.BaseURL())
}

func TestServerCapacity(t *testing.T) {
	srv := &Server{MaxCapacity: 5, CurrentLoad: 3}
	assert.Equal(t, 2, srv.AvailableCapacity())
	assert.False(t, srv.IsFull())

	srv.CurrentLoad = 5
	assert.Equal(t, 0, srv.AvailableCapacity())
	assert.True(t, srv.IsFull())

	srv.CurrentLoad = 7
	assert.Equal(t, 0, srv.AvailableCapacity())
	assert.True(t, srv.IsFull())
}
