package extractor

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tally/internal/roster"
)

// Reconciler merges a model answer into the roster. Now and NewID default
// to the wall clock and random UUIDs.
type Reconciler struct {
	Now   func() time.Time
	NewID func() uuid.UUID
}

var defaultReconciler = Reconciler{
	Now:   func() time.Time { return time.Now().UTC() },
	NewID: uuid.New,
}

// Reconcile resolves each candidate to an existing participant or mints a
// new one, and emits one activity record per candidate in answer order.
func Reconcile(answer Answer, existing []roster.Participant) *Result {
	return defaultReconciler.Reconcile(answer, existing)
}

// Reconcile is the configurable form of the package-level Reconcile. When two
// existing participants share a join key the first one in existing wins.
func (r Reconciler) Reconcile(answer Answer, existing []roster.Participant) *Result {
	now := r.Now
	if now == nil {
		now = defaultReconciler.Now
	}
	newID := r.NewID
	if newID == nil {
		newID = defaultReconciler.NewID
	}

	// First entry wins when two existing names normalize to the same key.
	known := make(map[string]uuid.UUID, len(existing))
	for _, p := range existing {
		key := roster.NormalizeName(p.Name)
		if _, dup := known[key]; !dup {
			known[key] = p.ID
		}
	}
	minted := make(map[string]uuid.UUID)

	res := &Result{
		NewParticipants: []roster.Participant{},
		Records:         make([]roster.ActivityRecord, 0, len(answer.Reports)),
		Metadata:        make(map[uuid.UUID]Provenance, len(answer.Reports)),
		Reasoning:       answer.Reasoning,
	}

	for _, c := range answer.Reports {
		key := roster.NormalizeName(c.Name)
		ts := now()

		id, ok := minted[key]
		if !ok {
			id, ok = known[key]
			if c.IsNew || !ok {
				id = newID()
				res.NewParticipants = append(res.NewParticipants, roster.Participant{
					ID:        id,
					Name:      strings.TrimSpace(c.Name),
					CreatedAt: ts,
				})
				minted[key] = id
			}
		}

		active := c.IsActive
		res.Records = append(res.Records, roster.ActivityRecord{
			ID:            newID(),
			ParticipantID: id,
			IsActive:      &active,
			Hours:         c.Hours,
			Studies:       c.Studies,
			Comment:       c.Comment,
			UpdatedAt:     ts,
		})
		res.Metadata[id] = Provenance{
			OriginalText:    c.OriginalText,
			MatchConfidence: c.MatchConfidence,
			ReportedBy:      c.ReportedBy,
			Reasoning:       c.Reasoning,
		}
	}

	return res
}
