package models

import (
	"time"

	"github.com/google/uuid"
)

// RunRecord is the persisted form of one diagnostic run
type RunRecord struct {
	ID          string               `json:"id"`
	Host        string               `json:"host"`
	Port        int                  `json:"port"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Status      RunStatus            `json:"status"`
	FinalState  State                `json:"final_state"`
	FailedAt    State                `json:"failed_at,omitempty"`
	ErrorKind   string               `json:"error_kind,omitempty"`
	Error       string               `json:"error,omitempty"`
	Addresses   []ResolvedAddress    `json:"addresses,omitempty"`
	Probes      []AddressProbeResult `json:"probes,omitempty"`
	TLS         *TLSSessionInfo      `json:"tls,omitempty"`
	Greeting    *GreetingResult      `json:"greeting,omitempty"`
	Transcript  []string             `json:"transcript,omitempty"`
}

// NewRunRecord creates a run record with a fresh ID for target
func NewRunRecord(target ProbeTarget) *RunRecord {
	return &RunRecord{
		ID:         uuid.New().String(),
		Host:       target.Host,
		Port:       target.Port,
		StartedAt:  time.Now(),
		Status:     StatusRunning,
		FinalState: StateStart,
	}
}

// Target returns the "host:port" index key for the record
func (r *RunRecord) Target() string {
	return ProbeTarget{Host: r.Host, Port: r.Port}.String()
}
