package sessions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/kernel/sessions"
	"github.com/kernald/kernald/internal/store"
)

func newRegistry(t *testing.T) *sessions.Registry {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))
	return sessions.New(db)
}

func TestStartSession_CreatesActiveSession(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	res, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "refactor", CreatedBy: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusActive, res.Session.Status)
	assert.Empty(t, res.Conflicts)
}

func TestStartSession_ConflictingFileIsReportedNotClaimed(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	first, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "a", CreatedBy: "alpha", Files: []string{"p.ts"}})
	require.NoError(t, err)

	second, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "b", CreatedBy: "beta", Files: []string{"p.ts"}})
	require.NoError(t, err)
	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, first.Session.ID, second.Conflicts[0].HeldBySession)

	files, err := r.ListFiles(ctx, second.Session.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStartSession_ForceOverridesConflict(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	_, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "a", CreatedBy: "alpha", Files: []string{"p.ts"}})
	require.NoError(t, err)

	second, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "b", CreatedBy: "beta", Files: []string{"p.ts"}, Force: true})
	require.NoError(t, err)
	require.Len(t, second.Conflicts, 1)
}

func TestEndSession_IsIdempotentOnTerminal(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	res, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "a", CreatedBy: "alpha"})
	require.NoError(t, err)

	s1, err := r.EndSession(ctx, res.Session.ID, sessions.StatusCompleted, "", "alpha")
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCompleted, s1.Status)

	s2, err := r.EndSession(ctx, res.Session.ID, sessions.StatusAbandoned, "", "alpha")
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCompleted, s2.Status)
}

func TestDeleteSession_CascadesNotesAndFileClaims(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	res, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "a", CreatedBy: "alpha", Files: []string{"p.ts"}})
	require.NoError(t, err)

	_, err = r.AddNote(ctx, res.Session.ID, "note text", "", "alpha")
	require.NoError(t, err)

	require.NoError(t, r.DeleteSession(ctx, res.Session.ID))

	_, err = r.Get(ctx, res.Session.ID)
	require.Error(t, err)

	notes, err := r.ListNotes(ctx, res.Session.ID, "", 10)
	require.NoError(t, err)
	assert.Empty(t, notes)

	files, err := r.ListFiles(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestAddNote_NoSessionIDCreatesImplicitSession(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	note, err := r.AddNote(ctx, "", "quick thought", "", "alpha")
	require.NoError(t, err)
	assert.NotEmpty(t, note.SessionID)

	notes, err := r.ListNotes(ctx, note.SessionID, "", 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
}

func TestAddNote_ReusesMostRecentActiveSession(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	res, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "a", CreatedBy: "alpha"})
	require.NoError(t, err)

	note, err := r.AddNote(ctx, "", "hello", "", "alpha")
	require.NoError(t, err)
	assert.Equal(t, res.Session.ID, note.SessionID)
}

func TestRemoveFiles_DeletesClaims(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()

	res, err := r.StartSession(ctx, sessions.StartOptions{Purpose: "a", CreatedBy: "alpha", Files: []string{"p.ts", "q.ts"}})
	require.NoError(t, err)

	n, err := r.RemoveFiles(ctx, res.Session.ID, []string{"p.ts"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
