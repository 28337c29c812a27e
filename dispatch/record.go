// Package dispatch forwards validated manifests to an external composition
// worker over a webhook, a JetStream stream, or a filesystem queue. The
// first attempt runs synchronously; bounded retries continue in the
// background and append their outcomes to a dispatch log.
package dispatch

import (
	"time"

	"github.com/c360studio/repoforge/manifest"
)

// EventType is the downstream event every dispatch carries.
const EventType = "scaffold-system"

// Record is the unit handed to a forwarder.
type Record struct {
	EventType string  `json:"event_type"`
	Payload   Payload `json:"client_payload"`
}

// Payload carries the accepted manifest and where the worker should persist
// it.
type Payload struct {
	Manifest     *manifest.Manifest `json:"manifest"`
	ManifestPath string             `json:"manifest_path"`
	InitiatedAt  string             `json:"initiated_at"`
}

// NewRecord builds a dispatch record for a manifest.
func NewRecord(m *manifest.Manifest) Record {
	return Record{
		EventType: EventType,
		Payload: Payload{
			Manifest:     m,
			ManifestPath: "manifests/" + m.SystemName + ".json",
			InitiatedAt:  time.Now().UTC().Format(time.RFC3339),
		},
	}
}
