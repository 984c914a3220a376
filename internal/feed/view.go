package feed

import (
	"time"

	"leadflow/internal/aggregate"
	"leadflow/internal/models"
	"leadflow/internal/status"
)

// LeadView is a record as operator screens render it.
type LeadView struct {
	models.Lead
	StatusLabel string        `json:"statusLabel"`
	BudgetLabel string        `json:"budgetLabel"`
	CreatedDate string        `json:"createdDate"`
	NextStatus  models.Status `json:"nextStatus,omitempty"`
}

type SnapshotView struct {
	Type    string           `json:"type"`
	Version uint64           `json:"version"`
	Records []LeadView       `json:"records"`
	Counts  aggregate.Counts `json:"counts"`
	At      time.Time        `json:"at"`
}

// NewLeadView renders createdAt as a calendar date in loc.
func NewLeadView(l models.Lead, loc *time.Location) LeadView {
	if loc == nil {
		loc = time.UTC
	}
	v := LeadView{
		Lead:        l,
		StatusLabel: l.Status.Label(),
		BudgetLabel: l.Budget.Label(),
		CreatedDate: l.CreatedAt.In(loc).Format("2006-01-02"),
	}
	if next, ok := status.NextAction(l.Status); ok {
		v.NextStatus = next
	}
	return v
}

func NewSnapshotView(s Snapshot, loc *time.Location) SnapshotView {
	records := make([]LeadView, len(s.Records))
	for i, l := range s.Records {
		records[i] = NewLeadView(l, loc)
	}
	return SnapshotView{
		Type:    "snapshot",
		Version: s.Version,
		Records: records,
		Counts:  s.Counts,
		At:      s.At,
	}
}
