// internal/models/application.go
package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the handling state of a lead.
type Status string

const (
	StatusPending   Status = "pending"
	StatusContacted Status = "contacted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists the statuses in display order.
var AllStatuses = []Status{StatusPending, StatusContacted, StatusCompleted, StatusCancelled}

var statusLabels = map[Status]string{
	StatusPending:   "대기",
	StatusContacted: "연락완료",
	StatusCompleted: "가입완료",
	StatusCancelled: "취소",
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the operator-facing badge text. Unknown values render as pending.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return statusLabels[StatusPending]
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// Budget is the monthly premium range picked on the intake form.
type Budget string

const (
	BudgetNone       Budget = ""
	BudgetUnder50k   Budget = "under-50k"
	Budget50kTo100k  Budget = "50k-100k"
	Budget100kTo200k Budget = "100k-200k"
	BudgetOver200k   Budget = "over-200k"
)

var budgetLabels = map[Budget]string{
	BudgetUnder50k:   "월 5만원 미만",
	Budget50kTo100k:  "월 5-10만원",
	Budget100kTo200k: "월 10-20만원",
	BudgetOver200k:   "월 20만원 이상",
}

func (b Budget) Valid() bool {
	if b == BudgetNone {
		return true
	}
	_, ok := budgetLabels[b]
	return ok
}

func (b Budget) Label() string {
	if label, ok := budgetLabels[b]; ok {
		return label
	}
	return "-"
}

// PhoneParts keeps the three input segments for redisplay.
type PhoneParts struct {
	P1 string `json:"p1"`
	P2 string `json:"p2"`
	P3 string `json:"p3"`
}

// Assemble joins the segments as p1-p2-p3.
func (p PhoneParts) Assemble() string {
	return p.P1 + "-" + p.P2 + "-" + p.P3
}

// LeadPayload is a validated, normalized submission that has not been stored yet.
type LeadPayload struct {
	ApplicantName  string     `json:"applicantName"`
	Phone          string     `json:"phone"`
	PhoneParts     PhoneParts `json:"phoneParts"`
	Email          string     `json:"email,omitempty"`
	DueDate        string     `json:"dueDate,omitempty"`
	PregnancyWeeks *int       `json:"pregnancyWeeks,omitempty"`
	Budget         Budget     `json:"budget,omitempty"`
	AdditionalInfo string     `json:"additionalInfo,omitempty"`
	ConsentGiven   bool       `json:"consentGiven"`
	// RequestKey, when set, fixes the record id so a repeated request
	// stores one record.
	RequestKey string `json:"-"`
}

// Lead is one stored customer inquiry.
type Lead struct {
	ID string `json:"id"`
	LeadPayload
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	// Seq is the store's insertion sequence, used to break CreatedAt ties.
	Seq int64 `json:"seq"`
}

// Validate checks the invariants a stored record must satisfy. Stores call it
// on read because the durable layer cannot be trusted to enforce them.
func (l *Lead) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("lead has no id")
	}
	if strings.TrimSpace(l.ApplicantName) == "" {
		return fmt.Errorf("lead %s: empty applicant name", l.ID)
	}
	if !l.Status.Valid() {
		return fmt.Errorf("lead %s: invalid status %q", l.ID, l.Status)
	}
	if l.Phone != l.PhoneParts.Assemble() {
		return fmt.Errorf("lead %s: phone %q does not match parts", l.ID, l.Phone)
	}
	if !l.Budget.Valid() {
		return fmt.Errorf("lead %s: invalid budget %q", l.ID, l.Budget)
	}
	if l.CreatedAt.IsZero() {
		return fmt.Errorf("lead %s: missing createdAt", l.ID)
	}
	return nil
}

// Newer reports whether l sorts before other in the feed (newest first).
func (l *Lead) Newer(other *Lead) bool {
	if !l.CreatedAt.Equal(other.CreatedAt) {
		return l.CreatedAt.After(other.CreatedAt)
	}
	return l.Seq > other.Seq
}
