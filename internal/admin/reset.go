// Package admin provides destructive maintenance operations on the
// document store.
package admin

import (
	"context"
	"fmt"
	"time"
)

// ResetTimeout is the maximum duration for reset operations.
const ResetTimeout = 30 * time.Second

// Resetter empties the store tables. *store.Store implements it.
type Resetter interface {
	ResetDocuments(ctx context.Context) (int64, error)
	ResetIngests(ctx context.Context) (int64, error)
}

// ResetResult counts the rows each reset removed.
type ResetResult struct {
	Documents int64
	Ingests   int64
}

type reset struct {
	name  string
	fn    func(ctx context.Context) (int64, error)
	count *int64
}

// ResetAll deletes every stored document and then the ingest history.
// This is irreversible.
func ResetAll(ctx context.Context, r Resetter) (ResetResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	var res ResetResult
	err := runResets(ctx, []reset{
		{"documents", r.ResetDocuments, &res.Documents},
		{"ingests", r.ResetIngests, &res.Ingests},
	})
	return res, err
}

func runResets(ctx context.Context, resets []reset) error {
	for _, r := range resets {
		n, err := r.fn(ctx)
		if err != nil {
			return fmt.Errorf("reset %s: %w", r.name, err)
		}
		*r.count = n
	}
	return nil
}
