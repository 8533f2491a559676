package models

import "time"

type PurgeProgress struct {
	Cutoff           time.Time `json:"cutoff" db:"cutoff"`
	CutoffAgeSeconds int64     `json:"cutoff_age_seconds" db:"cutoff_age_seconds"`
	Eliminated       int64     `json:"eliminated" db:"eliminated"`
	Remaining        int64     `json:"remaining" db:"remaining"`
	Percent          float64   `json:"percent"`
	Completed        bool      `json:"completed" db:"completed"`
	StartedAt        time.Time `json:"started_at" db:"started_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// ComputePercent fills Percent from the eliminated and remaining counters.
func (p *PurgeProgress) ComputePercent() {
	total := p.Eliminated + p.Remaining
	if total == 0 {
		p.Percent = 100
		return
	}
	p.Percent = float64(p.Eliminated) / float64(total) * 100
}
