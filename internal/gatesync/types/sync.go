package types

// SyncRequest asks the center for every vehicle changed after SyncVersion.
type SyncRequest struct {
	GateID      string `json:"gate_id"`
	SyncVersion int64  `json:"sync_version"`
}

// VehiclePayload is one vehicle row in a delta response. Timestamps are
// RFC3339 in UTC; ValidUntil nil means the authorization is unbounded.
type VehiclePayload struct {
	PlateNumber  string  `json:"plate_number"`
	OwnerName    string  `json:"owner_name"`
	IsAuthorized bool    `json:"is_authorized"`
	ValidFrom    string  `json:"valid_from"`
	ValidUntil   *string `json:"valid_until"`
	LastModified string  `json:"last_modified"`
}

// SyncResponse carries the delta plus the global version the gate should
// checkpoint after merging. An empty Vehicles list is the normal steady
// state for an up-to-date gate.
type SyncResponse struct {
	Vehicles    []VehiclePayload `json:"vehicles"`
	SyncVersion int64            `json:"sync_version"`
	Timestamp   string           `json:"timestamp"`
}

// LogEntry is one queued access event in a logs batch. ID is generated at
// the gate and stays stable across retries so the center can deduplicate.
type LogEntry struct {
	ID              string  `json:"id"`
	PlateNumber     string  `json:"plate_number"`
	GateID          string  `json:"gate_id"`
	AccessGranted   bool    `json:"access_granted"`
	ConfidenceScore float64 `json:"confidence_score"`
	Accessing       bool    `json:"accessing"`
	Timestamp       string  `json:"timestamp"`
}

type LogsBatch struct {
	GateID string     `json:"gate_id"`
	Logs   []LogEntry `json:"logs"`
}

const (
	AckStatusSuccess = "success"
	AckStatusPartial = "partial"
)

// LogsAck reports the per-event outcome of a batch. LogIDs committed,
// FailedLogIDs rejected — the gate retries only the failed ones.
type LogsAck struct {
	Status       string   `json:"status"`
	LogIDs       []string `json:"log_ids"`
	FailedLogIDs []string `json:"failed_log_ids"`
	Timestamp    string   `json:"timestamp"`
}
