package assembler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porticohq/portico/internal/store"
)

type fixture struct {
	db     *store.DB
	grants map[string]store.Grant
}

// seedPortal builds two tenants' worth of content: sub_1 is granted p_web
// (full permissions) and nothing else; p_mobile is visible but ungranted,
// p_other belongs to another tenant entirely.
func seedPortal(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.CreateTenant(ctx, "acme", "Acme", "standard"))
	require.NoError(t, db.CreateTenant(ctx, "rival", "Rival", "free"))
	require.NoError(t, db.CreateSubject(ctx, "sub_1", "acme", "a@acme.test"))

	require.NoError(t, db.CreateProject(ctx, "p_web", "acme", "Website Redesign",
		"Full redesign of the marketing website", true, now.Add(-48*time.Hour)))
	require.NoError(t, db.CreateProject(ctx, "p_mobile", "acme", "Mobile App",
		"Native app for field staff", true, now.Add(-24*time.Hour)))
	require.NoError(t, db.CreateProject(ctx, "p_other", "rival", "Secret Launch",
		"Competitor project", true, now))

	require.NoError(t, db.UpsertGrant(ctx, "sub_1", store.Grant{
		ProjectID: "p_web", CanViewTasks: true, CanViewFiles: true, CanSendMessages: true,
	}))

	require.NoError(t, db.CreateTask(ctx, store.TaskDoc{
		ID: "t1", ProjectID: "p_web", Title: "Homepage wireframes",
		Notes: "waiting on brand review", Status: "open", CreatedAt: now.Add(-2 * time.Hour),
	}, true))
	require.NoError(t, db.CreateTask(ctx, store.TaskDoc{
		ID: "t_hidden", ProjectID: "p_web", Title: "Internal estimate",
		Notes: "do not share", Status: "open", CreatedAt: now,
	}, false))
	require.NoError(t, db.CreateTask(ctx, store.TaskDoc{
		ID: "t_other", ProjectID: "p_other", Title: "Launch plan",
		Notes: "", Status: "open", CreatedAt: now,
	}, true))

	require.NoError(t, db.CreateConversation(ctx, "c1", "p_web", []string{"sub_1"}))
	require.NoError(t, db.CreateMessage(ctx, "m1", "c1", "Dana", "The redesign status update is posted", false, now.Add(-time.Hour)))
	require.NoError(t, db.CreateMessage(ctx, "m_internal", "c1", "Dana", "internal margin note", true, now))

	require.NoError(t, db.CreateFile(ctx, store.FileDoc{
		ID: "f1", ProjectID: "p_web", Name: "homepage-mockup.png", Kind: "image",
		SizeBytes: 2048, CreatedAt: now.Add(-3 * time.Hour),
	}))

	grants, err := db.GrantsFor(ctx, "sub_1")
	require.NoError(t, err)
	return &fixture{db: db, grants: grants}
}

func build(t *testing.T, f *fixture, query string, scope []string) []Document {
	t.Helper()
	a := New(f.db, KeywordRanker{}, 4000)
	docs, err := a.Build(context.Background(), "sub_1", query, scope, f.grants)
	require.NoError(t, err)
	return docs
}

func TestBuild_EmptyScope(t *testing.T) {
	f := seedPortal(t)
	docs := build(t, f, "anything", nil)
	assert.Empty(t, docs)
}

func TestBuild_IsolationInvariant(t *testing.T) {
	f := seedPortal(t)
	docs := build(t, f, "launch secret competitor", []string{"p_web"})
	for _, d := range docs {
		assert.NotContains(t, d.Source, "Secret Launch")
		assert.NotContains(t, d.Text, "Competitor")
		assert.NotContains(t, d.Source, "Launch plan")
	}
}

func TestBuild_ItemVisibilityInvariant(t *testing.T) {
	f := seedPortal(t)
	docs := build(t, f, "internal estimate margin", []string{"p_web"})
	for _, d := range docs {
		assert.NotContains(t, d.Source, "Internal estimate")
		assert.NotContains(t, d.Text, "margin note")
	}
}

func TestBuild_RankingPrefersMatchingProject(t *testing.T) {
	f := seedPortal(t)
	ctx := context.Background()
	require.NoError(t, f.db.UpsertGrant(ctx, "sub_1", store.Grant{ProjectID: "p_mobile"}))
	grants, err := f.db.GrantsFor(ctx, "sub_1")
	require.NoError(t, err)
	f.grants = grants

	a := New(f.db, KeywordRanker{}, 4000)
	docs, err := a.Build(ctx, "sub_1", "website redesign status", []string{"p_mobile", "p_web"}, f.grants)
	require.NoError(t, err)
	require.NotEmpty(t, docs)

	var webScore, mobileScore float64
	for _, d := range docs {
		switch d.Source {
		case "Project: Website Redesign":
			webScore = d.Score
		case "Project: Mobile App":
			mobileScore = d.Score
		}
	}
	assert.GreaterOrEqual(t, webScore, 0.9+0.3)
	assert.InDelta(t, 0.9, mobileScore, 1e-9)
	assert.Equal(t, "Project: Website Redesign", docs[0].Source)
}

func TestBuild_Deterministic(t *testing.T) {
	f := seedPortal(t)
	first := build(t, f, "redesign", []string{"p_web"})
	for i := 0; i < 5; i++ {
		again := build(t, f, "redesign", []string{"p_web"})
		assert.Equal(t, first, again)
	}
}

func TestBuild_BoundedOutput(t *testing.T) {
	f := seedPortal(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 30; i++ {
		require.NoError(t, f.db.CreateTask(ctx, store.TaskDoc{
			ID: fmt.Sprintf("bulk%d", i), ProjectID: "p_web",
			Title: fmt.Sprintf("Task %d", i), Status: "open",
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		}, true))
	}

	docs := build(t, f, "task", []string{"p_web"})
	assert.LessOrEqual(t, len(docs), MaxDocuments)
}

func TestBuild_GrantFlagsGateTasksAndFiles(t *testing.T) {
	f := seedPortal(t)
	ctx := context.Background()
	require.NoError(t, f.db.UpsertGrant(ctx, "sub_1", store.Grant{
		ProjectID: "p_web", CanViewTasks: false, CanViewFiles: false, CanSendMessages: true,
	}))
	grants, err := f.db.GrantsFor(ctx, "sub_1")
	require.NoError(t, err)
	f.grants = grants

	docs := build(t, f, "homepage", []string{"p_web"})
	for _, d := range docs {
		assert.NotEqual(t, KindTask, d.Kind)
		assert.NotEqual(t, KindFile, d.Kind)
	}
}

func TestBuild_TokenBudgetTruncation(t *testing.T) {
	f := seedPortal(t)
	ctx := context.Background()
	now := time.Now().UTC()
	long := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	for i := 0; i < 8; i++ {
		require.NoError(t, f.db.CreateTask(ctx, store.TaskDoc{
			ID: fmt.Sprintf("long%d", i), ProjectID: "p_web",
			Title: fmt.Sprintf("Long task %d", i), Notes: long, Status: "open",
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		}, true))
	}

	budget := 500
	a := New(f.db, KeywordRanker{}, budget)
	docs, err := a.Build(ctx, "sub_1", "lorem", []string{"p_web"}, f.grants)
	require.NoError(t, err)

	total := 0
	for i := range docs {
		total += docs[i].EstimatedTokens()
	}
	assert.LessOrEqual(t, total, budget)

	// Lowest scores were dropped first: what survives is a prefix of the ranking.
	for i := 1; i < len(docs); i++ {
		assert.GreaterOrEqual(t, docs[i-1].Score, docs[i].Score)
	}
}

func TestBuild_TiesBrokenMostRecentFirst(t *testing.T) {
	f := seedPortal(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, f.db.CreateTask(ctx, store.TaskDoc{
		ID: "tie_old", ProjectID: "p_web", Title: "Alpha tie", Status: "open",
		CreatedAt: now.Add(-10 * time.Hour),
	}, true))
	require.NoError(t, f.db.CreateTask(ctx, store.TaskDoc{
		ID: "tie_new", ProjectID: "p_web", Title: "Beta tie", Status: "open",
		CreatedAt: now.Add(-1 * time.Hour),
	}, true))

	docs := build(t, f, "no-match-query-zzz", []string{"p_web"})
	var taskOrder []string
	for _, d := range docs {
		if d.Kind == KindTask {
			taskOrder = append(taskOrder, d.Source)
		}
	}
	require.GreaterOrEqual(t, len(taskOrder), 2)
	assert.Less(t,
		indexOf(taskOrder, "Task: Beta tie"),
		indexOf(taskOrder, "Task: Alpha tie"))
}

func indexOf(ss []string, want string) int {
	for i, s := range ss {
		if s == want {
			return i
		}
	}
	return -1
}
