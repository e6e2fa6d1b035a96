package models

import (
	"fmt"
	"strings"
	"time"
)

// Server represents a gateway server running a remote management panel.
// The record itself is registered and updated by the platform admin layer;
// CurrentLoad is owned exclusively by the provisioner and is only ever
// mutated through the atomic reserve/release queries in the repository.
type Server struct {
	ID        string
	Name      string
	Host      string
	Port      int
	BasePath  string
	APISecret string

	MaxCapacity int
	CurrentLoad int
	Active      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BaseURL builds the panel API base URL for this server.
func (s *Server) BaseURL() string {
	base := fmt.Sprintf("http://%s:%d", s.Host, s.Port)
	if p := strings.Trim(s.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}

// AvailableCapacity returns the number of free config slots. A negative
// value means the soft capacity invariant was violated by a race and is
// reported as 0.
func (s *Server) AvailableCapacity() int {
	free := s.MaxCapacity - s.CurrentLoad
	if free < 0 {
		return 0
	}
	return free
}

// IsFull reports whether the server has no spare capacity.
func (s *Server) IsFull() bool {
	return s.CurrentLoad >= s.MaxCapacity
}
