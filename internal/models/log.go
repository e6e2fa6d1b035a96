package models

import "time"

// ActionOrphanedRemoteClient marks a compensation failure: a remote client
// exists on a gateway with no ledger row referencing it. Entries with this
// action are the reportable-inconsistency channel.
const ActionOrphanedRemoteClient = "orphaned_remote_client"

// ProvisionLog represents an audit log entry for a config lifecycle action.
// Compensation failures (orphaned remote clients) are recorded here so that
// inconsistencies are reportable instead of being lost in service logs.
type ProvisionLog struct {
	ID        string
	ConfigID  string
	Action    string
	Status    string
	Message   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
