// Package assembler builds the bounded, ranked context set for a copilot
// request from four content sources: project descriptions, client-visible
// tasks, non-internal conversation messages, and shared file metadata.
//
// Build is a deterministic, side-effect-free function of its inputs: the
// four fetches run concurrently but land in fixed slots, so goroutine
// scheduling never changes the output order.
package assembler

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	porticootel "github.com/porticohq/portico/internal/otel"
	"github.com/porticohq/portico/internal/store"
)

var tracer = porticootel.Tracer("github.com/porticohq/portico/internal/assembler")

// Per-source caps and base weights. The caps bound each fetch independently;
// the final output is further bounded by MaxDocuments and the token budget.
const (
	MaxDocuments = 10

	taskFetchLimit    = 50
	messageFetchLimit = 30
	fileFetchLimit    = 20

	weightContainer = 0.9
	weightTask      = 0.8
	weightMessage   = 0.7
	weightFile      = 0.6
)

// ContentStore is the read surface the assembler needs. *store.DB satisfies
// it; tests may substitute a fixture.
type ContentStore interface {
	ProjectDescriptions(ctx context.Context, projectIDs []string) ([]store.ProjectDoc, error)
	RecentTasks(ctx context.Context, projectIDs []string, limit int) ([]store.TaskDoc, error)
	RecentMessages(ctx context.Context, subjectID string, projectIDs []string, limit int) ([]store.MessageDoc, error)
	RecentFiles(ctx context.Context, projectIDs []string, limit int) ([]store.FileDoc, error)
}

// Assembler fetches, ranks, and truncates context documents.
type Assembler struct {
	db          ContentStore
	ranker      Ranker
	tokenBudget int
}

// New creates an assembler with the given ranker and token budget.
func New(db ContentStore, ranker Ranker, tokenBudget int) *Assembler {
	if ranker == nil {
		ranker = KeywordRanker{}
	}
	return &Assembler{db: db, ranker: ranker, tokenBudget: tokenBudget}
}

// Build returns at most MaxDocuments ranked context documents for the query,
// drawn only from the given scope. grants must come from the scope resolver
// for the same subject; sub-permission flags gate the task and file stages.
func (a *Assembler) Build(ctx context.Context, subjectID, query string, scopeIDs []string, grants map[string]store.Grant) ([]Document, error) {
	ctx, span := tracer.Start(ctx, "assembler.build",
		trace.WithAttributes(
			attribute.String("subject_id", subjectID),
			attribute.Int("scope.size", len(scopeIDs)),
		))
	defer span.End()

	if len(scopeIDs) == 0 {
		return nil, nil
	}

	taskScope := filterScope(scopeIDs, grants, func(g store.Grant) bool { return g.CanViewTasks })
	fileScope := filterScope(scopeIDs, grants, func(g store.Grant) bool { return g.CanViewFiles })

	var (
		projects []store.ProjectDoc
		tasks    []store.TaskDoc
		messages []store.MessageDoc
		files    []store.FileDoc
	)

	// Independent reads over disjoint tables; fan out and join.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		projects, err = a.db.ProjectDescriptions(gctx, scopeIDs)
		return err
	})
	g.Go(func() (err error) {
		tasks, err = a.db.RecentTasks(gctx, taskScope, taskFetchLimit)
		return err
	})
	g.Go(func() (err error) {
		messages, err = a.db.RecentMessages(gctx, subjectID, scopeIDs, messageFetchLimit)
		return err
	})
	g.Go(func() (err error) {
		files, err = a.db.RecentFiles(gctx, fileScope, fileFetchLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetching context sources: %w", err)
	}

	docs := make([]Document, 0, len(projects)+len(tasks)+len(messages)+len(files))
	for _, p := range projects {
		docs = append(docs, Document{
			Source:     "Project: " + p.Name,
			Text:       p.Description,
			Kind:       KindContainer,
			BaseWeight: weightContainer,
			CreatedAt:  p.CreatedAt,
		})
	}
	for _, t := range tasks {
		docs = append(docs, Document{
			Source:     "Task: " + t.Title,
			Text:       fmt.Sprintf("%s (status: %s)", t.Notes, t.Status),
			Kind:       KindTask,
			BaseWeight: weightTask,
			CreatedAt:  t.CreatedAt,
		})
	}
	for _, m := range messages {
		docs = append(docs, Document{
			Source:     "Message from " + m.Sender,
			Text:       m.Body,
			Kind:       KindMessage,
			BaseWeight: weightMessage,
			CreatedAt:  m.CreatedAt,
		})
	}
	for _, f := range files {
		docs = append(docs, Document{
			Source:     "File: " + f.Name,
			Text:       fmt.Sprintf("%s, %d bytes", f.Kind, f.SizeBytes),
			Kind:       KindFile,
			BaseWeight: weightFile,
			CreatedAt:  f.CreatedAt,
		})
	}

	for i := range docs {
		docs[i].Score = a.ranker.Score(query, &docs[i])
	}

	// Score descending, ties most-recent-first. Stable so the fixed stage
	// order breaks any remaining ties deterministically.
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	if len(docs) > MaxDocuments {
		docs = docs[:MaxDocuments]
	}
	docs = a.truncateToBudget(docs)

	span.SetAttributes(attribute.Int("context.documents", len(docs)))
	return docs, nil
}

// truncateToBudget drops documents lowest-score-first until the estimated
// token total fits the budget.
func (a *Assembler) truncateToBudget(docs []Document) []Document {
	if a.tokenBudget <= 0 {
		return docs
	}
	total := 0
	for i := range docs {
		total += docs[i].EstimatedTokens()
	}
	for total > a.tokenBudget && len(docs) > 0 {
		total -= docs[len(docs)-1].EstimatedTokens()
		docs = docs[:len(docs)-1]
	}
	return docs
}

func filterScope(scopeIDs []string, grants map[string]store.Grant, allow func(store.Grant) bool) []string {
	out := make([]string, 0, len(scopeIDs))
	for _, id := range scopeIDs {
		if g, ok := grants[id]; ok && allow(g) {
			out = append(out, id)
		}
	}
	return out
}
