package models

import "time"

// CreateConfigRequest is the provisioning request from the platform layer.
type CreateConfigRequest struct {
	OwnerID    string     `json:"owner_id" binding:"required"`
	Protocol   string     `json:"protocol" binding:"required"`
	QuotaBytes *int64     `json:"quota_bytes,omitempty"` // nil = unlimited
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`  // nil = never
}

// ConfigResponse is the config view returned to the platform layer.
type ConfigResponse struct {
	ID             string      `json:"id"`
	OwnerID        string      `json:"owner_id"`
	ServerID       string      `json:"server_id"`
	RemoteClientID string      `json:"remote_client_id,omitempty"`
	Protocol       string      `json:"protocol"`
	Status         string      `json:"status"`
	QuotaBytes     *int64      `json:"quota_bytes,omitempty"`
	UsedBytes      int64       `json:"used_bytes"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	AccessURIs     []AccessURI `json:"access_uris,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AccessURI is a client-importable connection link for one protocol.
type AccessURI struct {
	Protocol string `json:"protocol"`
	URI      string `json:"uri"`
	Server   string `json:"server"`
}

// UpsertServerRequest registers or updates a gateway server record.
type UpsertServerRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" binding:"required"`
	Host        string `json:"host" binding:"required"`
	Port        int    `json:"port" binding:"required"`
	BasePath    string `json:"base_path,omitempty"`
	APISecret   string `json:"api_secret" binding:"required"`
	MaxCapacity int    `json:"max_capacity" binding:"required"`
	Active      *bool  `json:"active,omitempty"`
}

// CapacityResponse answers capacity/availability queries for one server.
type CapacityResponse struct {
	ServerID          string `json:"server_id"`
	MaxCapacity       int    `json:"max_capacity"`
	CurrentLoad       int    `json:"current_load"`
	AvailableCapacity int    `json:"available_capacity"`
	IsFull            bool   `json:"is_full"`
}

// ServerHealthResponse reports a proxied gateway panel health check.
type ServerHealthResponse struct {
	ServerID string `json:"server_id"`
	Healthy  bool   `json:"healthy"`
	Error    string `json:"error,omitempty"`
}
