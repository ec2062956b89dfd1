package types

// Outcome is what happened to a single partition during a run.
type Outcome string

const (
	OutcomeWritten   Outcome = "written"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// PartitionResult records the outcome for one candidate partition.
type PartitionResult struct {
	Device     string  `json:"device"`
	UUID       string  `json:"uuid"`
	Label      string  `json:"label,omitempty"`
	MountPoint string  `json:"mountpoint,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
	Err        error   `json:"-"`
}

// Report summarizes a provisioning run.
type Report struct {
	Backup        string            `json:"backup,omitempty"`
	Results       []PartitionResult `json:"results"`
	Written       []MountEntry      `json:"written"`
	Validated     bool              `json:"validated"`
	ValidationErr error             `json:"-"`
	Activated     []string          `json:"activated,omitempty"`
	ActivationErr error             `json:"-"`
	Aborted       bool              `json:"aborted"`
}

// Changed reports whether the run appended at least one entry.
func (r *Report) Changed() bool {
	return len(r.Written) > 0
}

// Count returns how many results have the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Problems reports whether the run completed with a validation or activation failure.
func (r *Report) Problems() bool {
	return r.ValidationErr != nil || r.ActivationErr != nil
}
