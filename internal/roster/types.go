package roster

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Participant is a tracked person on the roster. Name is the join key used
// when matching extracted reports and may be edited by the roster owner.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActivityRecord is one period's report for a participant.
type ActivityRecord struct {
	ID            uuid.UUID `json:"id"`
	ParticipantID uuid.UUID `json:"publisherId"`
	IsActive      *bool     `json:"active,omitempty"`
	Hours         *float64  `json:"hours,omitempty"`
	Studies       *float64  `json:"studies,omitempty"`
	Comment       string    `json:"comment,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store persists the roster.
type Store interface {
	LoadAll(ctx context.Context) ([]Participant, error)
	Upsert(ctx context.Context, participants []Participant) error
	Remove(ctx context.Context, id uuid.UUID) error
}

// ActivityStore persists activity records. Implementations keep one current
// record per participant.
type ActivityStore interface {
	LoadAll(ctx context.Context) ([]ActivityRecord, error)
	UpsertByParticipant(ctx context.Context, rec ActivityRecord) error
}

// NormalizeName returns the join key for a display name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SortByName orders participants by display name, case-insensitively.
func SortByName(participants []Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		return NormalizeName(participants[i].Name) < NormalizeName(participants[j].Name)
	})
}

// LatestByParticipant keeps the most recently updated record per participant.
func LatestByParticipant(records []ActivityRecord) map[uuid.UUID]ActivityRecord {
	latest := make(map[uuid.UUID]ActivityRecord, len(records))
	for _, rec := range records {
		cur, ok := latest[rec.ParticipantID]
		if !ok || !rec.UpdatedAt.Before(cur.UpdatedAt) {
			latest[rec.ParticipantID] = rec
		}
	}
	return latest
}
