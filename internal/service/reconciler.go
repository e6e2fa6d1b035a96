package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wenwu/saas-platform/proxy-provisioner/internal/config"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/repository"
)

// Reconciler runs the periodic passes that keep the ledger consistent with
// expiry policy, quota policy, and true remote usage. Every pass is
// idempotent and bounded: batch-limited, deadline-limited, and isolated
// per item/per server so one bad record or gateway cannot abort a run.
type Reconciler struct {
	cfg     config.ReconcilerConfig
	configs ConfigStore
	servers ServerStore
	audit   AuditLog
	panels  PanelFactory
}

// NewReconciler creates a new reconciler.
func NewReconciler(cfg config.ReconcilerConfig, configs ConfigStore, servers ServerStore, audit AuditLog, panels PanelFactory) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		configs: configs,
		servers: servers,
		audit:   audit,
		panels:  panels,
	}
}

// Start launches the built-in tickers. An external scheduler can drive the
// exported Run methods directly instead; each run carries its own deadline
// and commits per-item, so overlapping invocations are safe.
func (r *Reconciler) Start(ctx context.Context) {
	go r.loop(ctx, "expiry", r.cfg.ExpiryInterval, r.RunExpiryEnforcer)
	go r.loop(ctx, "quota", r.cfg.QuotaInterval, r.RunQuotaEnforcer)
	go r.loop(ctx, "usage_sync", r.cfg.UsageSyncInterval, r.RunUsageSync)
	go r.loop(ctx, "health_sweep", r.cfg.HealthSweepInterval, r.RunHealthSweep)
	log.Printf("[Reconciler] Started: expiry=%v quota=%v usage=%v health=%v batch=%d",
		r.cfg.ExpiryInterval, r.cfg.QuotaInterval, r.cfg.UsageSyncInterval,
		r.cfg.HealthSweepInterval, r.cfg.BatchSize)
}

func (r *Reconciler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := run(ctx); err != nil {
				log.Printf("[Reconciler] %s run failed: %v", name, err)
			}
		}
	}
}

// RunExpiryEnforcer transitions every active config whose expiry has
// passed to expired, then best-effort deletes the remote client. It also
// retries remote cleanup for configs a previous pass expired or disabled
// but could not clean up remotely.
func (r *Reconciler) RunExpiryEnforcer(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunDeadline)
	defer cancel()

	now := time.Now()
	expiring, err := r.configs.ListExpiring(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list expiring configs: %w", err)
	}

	attempted := make(map[string]bool, len(expiring))
	var expired, skipped int
	for _, cfg := range expiring {
		if ctx.Err() != nil {
			log.Printf("[Reconciler] expiry run deadline reached after %d items", expired+skipped)
			break
		}

		err := r.configs.TransitionStatus(ctx, cfg.ID, cfg.Version, models.ConfigStatusActive, models.ConfigStatusExpired)
		if errors.Is(err, repository.ErrConflict) {
			// Another pass or the provisioner got there first.
			skipped++
			continue
		}
		if err != nil {
			log.Printf("[Reconciler] expiry transition failed for config %s: %v", cfg.ID, err)
			continue
		}
		expired++
		attempted[cfg.ID] = true
		r.audit.LogAction(ctx, cfg.ID, "config_expired", string(models.ConfigStatusExpired), "expiry enforced")
		r.bestEffortRemoteDelete(ctx, cfg, "expiry")
	}

	r.retryRemoteCleanup(ctx, attempted)

	if expired > 0 || skipped > 0 {
		log.Printf("[Reconciler] Expiry pass done: expired=%d skipped=%d", expired, skipped)
	}
	return nil
}

// RunQuotaEnforcer transitions every active config that has consumed its
// quota to disabled, then best-effort deletes the remote client so the
// credential stops passing traffic.
func (r *Reconciler) RunQuotaEnforcer(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunDeadline)
	defer cancel()

	overQuota, err := r.configs.ListOverQuota(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list over-quota configs: %w", err)
	}

	var disabled, skipped int
	for _, cfg := range overQuota {
		if ctx.Err() != nil {
			log.Printf("[Reconciler] quota run deadline reached after %d items", disabled+skipped)
			break
		}

		err := r.configs.TransitionStatus(ctx, cfg.ID, cfg.Version, models.ConfigStatusActive, models.ConfigStatusDisabled)
		if errors.Is(err, repository.ErrConflict) {
			skipped++
			continue
		}
		if err != nil {
			log.Printf("[Reconciler] quota transition failed for config %s: %v", cfg.ID, err)
			continue
		}
		disabled++
		r.audit.LogActionWithMetadata(ctx, cfg.ID, "config_disabled", string(models.ConfigStatusDisabled),
			"traffic quota exhausted",
			map[string]interface{}{
				"used_bytes":  cfg.UsedBytes,
				"quota_bytes": cfg.QuotaBytes,
			})
		r.bestEffortRemoteDelete(ctx, cfg, "quota")
	}

	if disabled > 0 || skipped > 0 {
		log.Printf("[Reconciler] Quota pass done: disabled=%d skipped=%d", disabled, skipped)
	}
	return nil
}

// RunUsageSync pulls usage counters from every active gateway in one
// batched call per server and merges them into the ledger monotonically.
// A failure fetching one server never prevents syncing the others.
func (r *Reconciler) RunUsageSync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunDeadline)
	defer cancel()

	servers, err := r.servers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active servers: %w", err)
	}

	var synced, failed int
	for _, srv := range servers {
		if ctx.Err() != nil {
			log.Printf("[Reconciler] usage run deadline reached after %d servers", synced+failed)
			break
		}

		usage, err := r.panels.ClientFor(srv).GetAllUsage(ctx)
		if err != nil {
			failed++
			log.Printf("[Reconciler] usage fetch failed for server %s: %v", srv.ID, err)
			continue
		}

		for remoteID, used := range usage {
			if ctx.Err() != nil {
				break
			}
			matched, err := r.configs.MergeUsage(ctx, srv.ID, remoteID, used)
			if err != nil {
				log.Printf("[Reconciler] usage merge failed for server %s client %s: %v", srv.ID, remoteID, err)
				continue
			}
			if !matched {
				// The panel may track clients this ledger never issued.
				continue
			}
		}
		synced++
	}

	if failed > 0 {
		log.Printf("[Reconciler] Usage pass done: synced=%d servers, failed=%d servers", synced, failed)
	}
	return nil
}

// RunHealthSweep checks every active gateway panel and records failures in
// the audit log. It never flips the active flag: that field belongs to the
// platform admin layer.
func (r *Reconciler) RunHealthSweep(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RunDeadline)
	defer cancel()

	servers, err := r.servers.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active servers: %w", err)
	}

	for _, srv := range servers {
		if ctx.Err() != nil {
			break
		}
		healthy, err := r.panels.ClientFor(srv).HealthCheck(ctx)
		if err != nil || !healthy {
			log.Printf("[Reconciler] Server %s (%s) unhealthy: %v", srv.ID, srv.Name, err)
			r.audit.LogActionWithMetadata(ctx, "", "server_unhealthy", "warning",
				"gateway panel health check failed",
				map[string]interface{}{
					"server_id": srv.ID,
					"error":     fmt.Sprint(err),
				})
		}
	}
	return nil
}

// bestEffortRemoteDelete removes the remote client behind an already
// locally-terminal config. The local status is authoritative for business
// logic, so a remote failure is logged and left for the next cleanup pass,
// never escalated.
func (r *Reconciler) bestEffortRemoteDelete(ctx context.Context, cfg *models.Config, reason string) {
	if cfg.RemoteClientID == nil || *cfg.RemoteClientID == "" {
		return
	}
	srv, err := r.servers.GetByID(ctx, cfg.ServerID)
	if err != nil {
		log.Printf("[Reconciler] remote delete (%s) skipped for config %s: %v", reason, cfg.ID, err)
		return
	}
	if err := r.panels.ClientFor(srv).DeleteClient(ctx, *cfg.RemoteClientID); err != nil {
		log.Printf("[Reconciler] remote delete (%s) failed for config %s: %v", reason, cfg.ID, err)
		return
	}
	if err := r.configs.ClearRemoteClient(ctx, cfg.ID); err != nil {
		log.Printf("[Reconciler] clearing remote ref failed for config %s: %v", cfg.ID, err)
	}
}

// retryRemoteCleanup retries remote deletes for configs that reached a
// terminal status on an earlier pass but still reference a remote client.
// Items already attempted in this run are skipped.
func (r *Reconciler) retryRemoteCleanup(ctx context.Context, attempted map[string]bool) {
	if ctx.Err() != nil {
		return
	}
	leftovers, err := r.configs.ListTerminalWithRemote(ctx, r.cfg.BatchSize)
	if err != nil {
		log.Printf("[Reconciler] listing leftover remote clients failed: %v", err)
		return
	}
	for _, cfg := range leftovers {
		if ctx.Err() != nil {
			return
		}
		if attempted[cfg.ID] {
			continue
		}
		r.bestEffortRemoteDelete(ctx, cfg, "cleanup_retry")
	}
}
