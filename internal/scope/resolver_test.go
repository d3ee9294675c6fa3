package scope

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porticohq/portico/internal/store"
)

func seedScope(t *testing.T) *Resolver {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, db.CreateTenant(ctx, "acme", "Acme", "free"))
	require.NoError(t, db.CreateSubject(ctx, "sub_1", "acme", "a@acme.test"))

	// Granted and visible.
	require.NoError(t, db.CreateProject(ctx, "p_ok", "acme", "Website Redesign", "", true, now))
	require.NoError(t, db.UpsertGrant(ctx, "sub_1", store.Grant{ProjectID: "p_ok", CanViewTasks: true}))
	// Granted but hidden.
	require.NoError(t, db.CreateProject(ctx, "p_hidden", "acme", "Internal", "", false, now))
	require.NoError(t, db.UpsertGrant(ctx, "sub_1", store.Grant{ProjectID: "p_hidden"}))
	// Visible but no grant.
	require.NoError(t, db.CreateProject(ctx, "p_nogrant", "acme", "Mobile App", "", true, now))

	return NewResolver(db)
}

func TestResolve_IntersectionOfGrantAndVisibility(t *testing.T) {
	r := seedScope(t)
	s, err := r.Resolve(context.Background(), "sub_1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"p_ok"}, s.IDs)
	assert.True(t, s.HasAnyGrant)
}

func TestResolve_FilterToGrantedProject(t *testing.T) {
	r := seedScope(t)
	s, err := r.Resolve(context.Background(), "sub_1", "p_ok")
	require.NoError(t, err)
	assert.Equal(t, []string{"p_ok"}, s.IDs)
}

func TestResolve_FailsClosedNotError(t *testing.T) {
	r := seedScope(t)
	ctx := context.Background()

	// Hidden, ungranted, and nonexistent projects all look identical.
	for _, id := range []string{"p_hidden", "p_nogrant", "p_missing"} {
		s, err := r.Resolve(ctx, "sub_1", id)
		require.NoError(t, err)
		assert.True(t, s.Empty(), "project %s must fail closed", id)
		assert.True(t, s.HasAnyGrant)
	}
}

func TestResolve_UnknownSubjectEmpty(t *testing.T) {
	r := seedScope(t)
	s, err := r.Resolve(context.Background(), "nobody", "")
	require.NoError(t, err)
	assert.True(t, s.Empty())
	assert.False(t, s.HasAnyGrant)
}

func TestResolve_GrantsCarrySubPermissions(t *testing.T) {
	r := seedScope(t)
	s, err := r.Resolve(context.Background(), "sub_1", "")
	require.NoError(t, err)
	require.Contains(t, s.Grants, "p_ok")
	assert.True(t, s.Grants["p_ok"].CanViewTasks)
	assert.False(t, s.Grants["p_ok"].CanViewFiles)
}
