package dto

import (
	"time"

	"echohub/internal/microservices/tcp"
)

type StatusResponse struct {
	State         string      `json:"state"`
	Addr          string      `json:"addr"`
	ActiveSession *SessionDTO `json:"active_session"`
	Totals        tcp.Totals  `json:"totals"`
	DroppedEvents int64       `json:"dropped_events"`
	CheckedAt     time.Time   `json:"checked_at"`
}

type SessionDTO struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	BytesEchoed int64     `json:"bytes_echoed"`
	Chunks      int       `json:"chunks"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Outcome     string    `json:"outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func SessionFromRecord(r tcp.SessionRecord) SessionDTO {
	out := SessionDTO{
		ID:          r.ID,
		Remote:      r.Remote,
		BytesEchoed: r.BytesEchoed,
		Chunks:      r.Chunks,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Outcome:     string(r.Outcome),
		Error:       r.Error,
	}
	if !r.EndedAt.IsZero() {
		out.DurationMS = r.Duration().Milliseconds()
	}
	return out
}

type SessionListResponse struct {
	Sessions []SessionDTO `json:"sessions"`
	Count    int          `json:"count"`
}
