package models

import (
	"fmt"
	"time"
)

// ConfigStatus is the lifecycle state of a provisioned config.
type ConfigStatus string

const (
	ConfigStatusActive          ConfigStatus = "active"
	ConfigStatusExpired         ConfigStatus = "expired"
	ConfigStatusDisabled        ConfigStatus = "disabled"
	ConfigStatusPendingDeletion ConfigStatus = "pending_deletion"
)

// Valid reports whether s is a known status value.
func (s ConfigStatus) Valid() bool {
	switch s {
	case ConfigStatusActive, ConfigStatusExpired, ConfigStatusDisabled, ConfigStatusPendingDeletion:
		return true
	}
	return false
}

// Protocol identifies the proxy protocol a config is issued for.
type Protocol string

const (
	ProtocolVless       Protocol = "vless"
	ProtocolVmess       Protocol = "vmess"
	ProtocolShadowsocks Protocol = "shadowsocks"
)

// ParseProtocol validates a protocol string coming from the external layer.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case ProtocolVless, ProtocolVmess, ProtocolShadowsocks:
		return p, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

// Config represents a provisioned proxy credential on one gateway server.
// RemoteClientID stays nil until the remote panel create succeeds; exactly
// one config may reference a given (ServerID, RemoteClientID) pair.
type Config struct {
	ID             string
	OwnerID        string
	ServerID       string
	RemoteClientID *string

	Protocol   Protocol
	QuotaBytes *int64 // nil = unlimited
	UsedBytes  int64  // authoritative source is the remote panel, merged monotonically
	ExpiresAt  *time.Time

	Status  ConfigStatus
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpiredAt reports whether the config's expiry is in the past at the
// given instant. Configs without an expiry never expire.
func (c *Config) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// OverQuota reports whether the config has consumed its traffic quota.
// Configs without a quota are unlimited.
func (c *Config) OverQuota() bool {
	return c.QuotaBytes != nil && c.UsedBytes >= *c.QuotaBytes
}
