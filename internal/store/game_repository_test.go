package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon-relentnet/scrollr-sub000/internal/domain"
)

type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case *time.Time:
			*v = row[i].(time.Time)
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func TestScanGames(t *testing.T) {
	now := time.Now()
	rows := &fakeRows{rows: [][]any{
		{"NFL", "1", "Chiefs", "Bills", "21", "17", "", "", now, "Q3 4:12", "in", now},
	}}

	games, err := scanGames(rows)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "NFL", games[0].League)
	assert.Equal(t, "Chiefs", games[0].HomeTeam)
	assert.Equal(t, domain.GameStateInProgress, games[0].State)
}

func TestScanGamesPropagatesRowError(t *testing.T) {
	rows := &fakeRows{err: errors.New("connection reset")}

	_, err := scanGames(rows)
	assert.Error(t, err)
}
