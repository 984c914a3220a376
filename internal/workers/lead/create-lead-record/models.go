// internal/workers/lead/create-lead-record/models.go
package createleadrecord

// Job variables are the raw intake submission (applicantName, phone1..3,
// email, dueDate or pregnancyWeeks, budget, additionalInfo, consent).

type Output struct {
	LeadID    string `json:"leadId"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"` // RFC 3339
}
