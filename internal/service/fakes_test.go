package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wenwu/saas-platform/proxy-provisioner/internal/gateway"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/repository"
)

type fakeServerStore struct {
	mu      sync.Mutex
	servers map[string]*models.Server

	releaseErr error
	releases   []string
}

func newFakeServerStore(servers ...*models.Server) *fakeServerStore {
	s := &fakeServerStore{servers: make(map[string]*models.Server)}
	for _, srv := range servers {
		cp := *srv
		s.servers[srv.ID] = &cp
	}
	return s
}

func (s *fakeServerStore) Reserve(ctx context.Context, protocol models.Protocol) (*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Server
	for _, srv := range s.servers {
		if !srv.Active || srv.CurrentLoad >= srv.MaxCapacity {
			continue
		}
		if best == nil || srv.CurrentLoad < best.CurrentLoad ||
			(srv.CurrentLoad == best.CurrentLoad && srv.ID < best.ID) {
			best = srv
		}
	}
	if best == nil {
		return nil, repository.ErrCapacityExhausted
	}
	best.CurrentLoad++
	cp := *best
	return &cp, nil
}

func (s *fakeServerStore) ReleaseSlot(ctx context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, serverID)
	if s.releaseErr != nil {
		return s.releaseErr
	}
	srv, ok := s.servers[serverID]
	if !ok {
		return repository.ErrNotFound
	}
	if srv.CurrentLoad > 0 {
		srv.CurrentLoad--
	}
	return nil
}

func (s *fakeServerStore) GetByID(ctx context.Context, id string) (*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *srv
	return &cp, nil
}

func (s *fakeServerStore) ListActive(ctx context.Context) ([]*models.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Server
	for _, srv := range s.servers {
		if srv.Active {
			cp := *srv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeServerStore) Upsert(ctx context.Context, srv *models.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.servers[srv.ID]; ok {
		srv.CurrentLoad = existing.CurrentLoad
	}
	cp := *srv
	s.servers[srv.ID] = &cp
	return nil
}

func (s *fakeServerStore) load(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.servers[id].CurrentLoad
}

type fakeConfigStore struct {
	mu      sync.Mutex
	configs map[string]*models.Config

	createErr     error
	transitionErr map[string]error
}

func newFakeConfigStore(configs ...*models.Config) *fakeConfigStore {
	s := &fakeConfigStore{
		configs:       make(map[string]*models.Config),
		transitionErr: make(map[string]error),
	}
	for _, cfg := range configs {
		cp := *cfg
		s.configs[cfg.ID] = &cp
	}
	return s
}

func (s *fakeConfigStore) Create(ctx context.Context, cfg *models.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.configs[cfg.ID]; ok {
		return fmt.Errorf("duplicate config id %s", cfg.ID)
	}
	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cp := *cfg
	s.configs[cfg.ID] = &cp
	return nil
}

func (s *fakeConfigStore) GetByID(ctx context.Context, id string) (*models.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *fakeConfigStore) GetByOwner(ctx context.Context, ownerID string) ([]*models.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Config
	for _, cfg := range s.configs {
		if cfg.OwnerID == ownerID {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeConfigStore) TransitionStatus(ctx context.Context, id string, version int64, from, to models.ConfigStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.transitionErr[id]; ok {
		return err
	}
	cfg, ok := s.configs[id]
	if !ok || cfg.Version != version || cfg.Status != from {
		return repository.ErrConflict
	}
	cfg.Status = to
	cfg.Version++
	cfg.UpdatedAt = time.Now()
	return nil
}

func (s *fakeConfigStore) MarkPendingDeletion(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if cfg.Status != models.ConfigStatusPendingDeletion {
		cfg.Status = models.ConfigStatusPendingDeletion
		cfg.Version++
	}
	return nil
}

func (s *fakeConfigStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return false, nil
	}
	delete(s.configs, id)
	return true, nil
}

func (s *fakeConfigStore) ClearRemoteClient(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return repository.ErrNotFound
	}
	cfg.RemoteClientID = nil
	return nil
}

func (s *fakeConfigStore) ListExpiring(ctx context.Context, now time.Time, limit int) ([]*models.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Config
	for _, cfg := range s.configs {
		if cfg.Status == models.ConfigStatusActive && cfg.ExpiredAt(now) {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeConfigStore) ListOverQuota(ctx context.Context, limit int) ([]*models.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Config
	for _, cfg := range s.configs {
		if cfg.Status == models.ConfigStatusActive && cfg.OverQuota() {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeConfigStore) ListTerminalWithRemote(ctx context.Context, limit int) ([]*models.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Config
	for _, cfg := range s.configs {
		terminal := cfg.Status == models.ConfigStatusExpired || cfg.Status == models.ConfigStatusDisabled
		if terminal && cfg.RemoteClientID != nil {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeConfigStore) MergeUsage(ctx context.Context, serverID, remoteClientID string, usedBytes int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.configs {
		if cfg.ServerID != serverID || cfg.Status != models.ConfigStatusActive {
			continue
		}
		if cfg.RemoteClientID == nil || *cfg.RemoteClientID != remoteClientID {
			continue
		}
		if usedBytes > cfg.UsedBytes {
			cfg.UsedBytes = usedBytes
		}
		return true, nil
	}
	return false, nil
}

func (s *fakeConfigStore) get(id string) *models.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil
	}
	cp := *cfg
	return &cp
}

func (s *fakeConfigStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.configs)
}

type auditEntry struct {
	ConfigID string
	Action   string
	Status   string
	Message  string
	Metadata map[string]interface{}
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *fakeAudit) LogAction(ctx context.Context, configID, action, status, message string) error {
	return a.LogActionWithMetadata(ctx, configID, action, status, message, nil)
}

func (a *fakeAudit) LogActionWithMetadata(ctx context.Context, configID, action, status, message string, metadata map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{
		ConfigID: configID,
		Action:   action,
		Status:   status,
		Message:  message,
		Metadata: metadata,
	})
	return nil
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *fakeAudit) find(action string) *auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.entries {
		if a.entries[i].Action == action {
			return &a.entries[i]
		}
	}
	return nil
}

type fakePanel struct {
	mu sync.Mutex

	nextID     int
	createErr  error
	deleteErr  error
	deleteWait bool // block deletes until the caller's context expires
	usage      map[string]int64
	usageErr   error
	healthy    bool
	healthErr  error

	created []*gateway.ClientSpec
	deleted []string
}

func newFakePanel() *fakePanel {
	return &fakePanel{healthy: true, usage: make(map[string]int64)}
}

func (p *fakePanel) CreateClient(ctx context.Context, spec *gateway.ClientSpec) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return "", p.createErr
	}
	p.nextID++
	cp := *spec
	p.created = append(p.created, &cp)
	return fmt.Sprintf("remote-%d", p.nextID), nil
}

func (p *fakePanel) DeleteClient(ctx context.Context, remoteID string) error {
	p.mu.Lock()
	p.deleted = append(p.deleted, remoteID)
	err := p.deleteErr
	wait := p.deleteWait
	p.mu.Unlock()
	if wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (p *fakePanel) UpdateLimit(ctx context.Context, remoteID string, limitBytes *int64) error {
	return nil
}

func (p *fakePanel) UpdateExpiry(ctx context.Context, remoteID string, expiresAt *time.Time) error {
	return nil
}

func (p *fakePanel) GetUsage(ctx context.Context, remoteID string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage[remoteID], p.usageErr
}

func (p *fakePanel) GetAllUsage(ctx context.Context) (map[string]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usageErr != nil {
		return nil, p.usageErr
	}
	out := make(map[string]int64, len(p.usage))
	for k, v := range p.usage {
		out[k] = v
	}
	return out, nil
}

func (p *fakePanel) HealthCheck(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy, p.healthErr
}

func (p *fakePanel) deletedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

// fakePanelFactory hands out one fake panel per server so tests can
// script failures on a specific gateway.
type fakePanelFactory struct {
	mu     sync.Mutex
	panels map[string]*fakePanel
}

func newFakePanelFactory() *fakePanelFactory {
	return &fakePanelFactory{panels: make(map[string]*fakePanel)}
}

func (f *fakePanelFactory) ClientFor(srv *models.Server) PanelClient {
	return f.panel(srv.ID)
}

func (f *fakePanelFactory) panel(serverID string) *fakePanel {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panels[serverID]
	if !ok {
		p = newFakePanel()
		f.panels[serverID] = p
	}
	return p
}
