// Package scope resolves the set of projects a portal subject may read.
//
// The resolver is the sole gate for all content fetches: downstream
// components query content only by project ids returned from here. A project
// is in scope iff it is client-visible AND an access grant exists for the
// subject; requesting a specific project outside that set fails closed to an
// empty scope rather than erroring, so callers cannot probe for existence.
package scope

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	porticootel "github.com/porticohq/portico/internal/otel"
	"github.com/porticohq/portico/internal/store"
)

var tracer = porticootel.Tracer("github.com/porticohq/portico/internal/scope")

// Scope is the resolved accessible set for one subject: the project ids to
// fetch from, plus the grants carrying sub-permission flags.
type Scope struct {
	IDs    []string
	Grants map[string]store.Grant

	// HasAnyGrant is true when the subject holds at least one usable grant,
	// even if a project filter reduced IDs to empty. Distinguishes "no portal
	// access at all" from "that particular project is not yours to see".
	HasAnyGrant bool
}

// Empty reports whether no project is in scope.
func (s *Scope) Empty() bool {
	return len(s.IDs) == 0
}

// Resolver computes accessible project scopes from grants and visibility.
type Resolver struct {
	db *store.DB
}

// NewResolver creates a scope resolver over the portal store.
func NewResolver(db *store.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the accessible scope for the subject, ids sorted for
// deterministic downstream fetches. When projectID is non-empty the scope is
// filtered to that single id, coming back empty (not an error) if the id is
// not in the grant set.
func (r *Resolver) Resolve(ctx context.Context, subjectID, projectID string) (*Scope, error) {
	ctx, span := tracer.Start(ctx, "scope.resolve",
		trace.WithAttributes(attribute.String("subject_id", subjectID)))
	defer span.End()

	grants, err := r.db.GrantsFor(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	s := &Scope{Grants: grants, HasAnyGrant: len(grants) > 0}
	if projectID != "" {
		if _, ok := grants[projectID]; ok {
			s.IDs = []string{projectID}
		}
	} else {
		s.IDs = make([]string, 0, len(grants))
		for id := range grants {
			s.IDs = append(s.IDs, id)
		}
		sort.Strings(s.IDs)
	}

	span.SetAttributes(attribute.Int("scope.size", len(s.IDs)))
	return s, nil
}
