// Package aggregate derives summary figures from a feed snapshot.
package aggregate

import "leadflow/internal/models"

type Counts struct {
	ByStatus map[models.Status]int `json:"byStatus"`
	Total    int                   `json:"total"`
}

// CountsByStatus tallies records per status. Every known status is present
// in the result, zero or not.
func CountsByStatus(snapshot []models.Lead) Counts {
	c := Counts{ByStatus: make(map[models.Status]int, len(models.AllStatuses))}
	for _, s := range models.AllStatuses {
		c.ByStatus[s] = 0
	}
	for i := range snapshot {
		c.ByStatus[snapshot[i].Status]++
	}
	c.Total = len(snapshot)
	return c
}

func (c Counts) Of(s models.Status) int {
	return c.ByStatus[s]
}
