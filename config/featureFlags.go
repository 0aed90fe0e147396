package config

import (
	"os"
	"strings"
)

// InProcessSyncScheduler enables the in-process polling scheduler. Disable when
// the standalone sync-service deployment owns scheduling for this database.
//
// Set via env:
// - SYNC_SCHEDULER_ENABLED=true (default true)
func InProcessSyncScheduler() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_SCHEDULER_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// PubSubSyncDispatch routes manually triggered sync runs through Pub/Sub
// instead of the local queue. Requires the push endpoint to be reachable.
//
// Set via env:
// - SYNC_PUBSUB_DISPATCH=true
func PubSubSyncDispatch() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SYNC_PUBSUB_DISPATCH")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// GeneratedFolioEvidence enables rendering a folio spreadsheet as evidence when
// the vendor exposes folio data but no document endpoint.
//
// Set via env:
// - GENERATED_FOLIO_EVIDENCE=true (default true)
func GeneratedFolioEvidence() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("GENERATED_FOLIO_EVIDENCE")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
