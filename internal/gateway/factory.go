package gateway

import (
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
)

// Factory builds panel clients for gateway servers, sharing one retry
// policy across the fleet.
type Factory struct {
	retry RetryPolicy
}

// NewFactory creates a client factory with the given retry policy.
func NewFactory(retry RetryPolicy) *Factory {
	return &Factory{retry: retry}
}

// ClientFor returns a panel client for the given server record.
func (f *Factory) ClientFor(srv *models.Server) *Client {
	return NewClient(srv.BaseURL(), srv.APISecret, f.retry)
}
