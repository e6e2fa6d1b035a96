package service

import "fmt"

// ConsistencyError reports an orphaned remote client: the panel create
// succeeded, the local ledger write failed, and the compensating delete
// failed as well. The orphan is also recorded in the audit log; callers
// must surface this, never swallow it.
type ConsistencyError struct {
	ServerID       string
	RemoteClientID string
	Err            error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("orphaned remote client %s on server %s: %v", e.RemoteClientID, e.ServerID, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return e.Err }
