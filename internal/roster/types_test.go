package roster

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Kalle Johansson", "kalle johansson"},
		{"  Anna  ", "anna"},
		{"DĀLBERGS", "dālbergs"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), tt.in)
	}
}

func TestSortByName(t *testing.T) {
	ps := []Participant{{Name: "erik"}, {Name: "Anna"}, {Name: "bertil"}}
	SortByName(ps)
	assert.Equal(t, "Anna", ps[0].Name)
	assert.Equal(t, "bertil", ps[1].Name)
	assert.Equal(t, "erik", ps[2].Name)
}

func TestLatestByParticipant(t *testing.T) {
	pid := uuid.New()
	other := uuid.New()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	older := ActivityRecord{ID: uuid.New(), ParticipantID: pid, Comment: "old", UpdatedAt: t0}
	newer := ActivityRecord{ID: uuid.New(), ParticipantID: pid, Comment: "new", UpdatedAt: t0.Add(time.Hour)}
	single := ActivityRecord{ID: uuid.New(), ParticipantID: other, UpdatedAt: t0}

	latest := LatestByParticipant([]ActivityRecord{newer, single, older})
	require.Len(t, latest, 2)
	assert.Equal(t, "new", latest[pid].Comment)
	assert.Equal(t, single.ID, latest[other].ID)
}
