package knowledge

import "context"

// Repository persists raw knowledge-base rows between restarts. Loaders and
// the import command write through ReplaceRows; serving processes read the
// whole store back with LoadRows and compile it in memory.
type Repository interface {
	LoadRows(ctx context.Context) ([]ProfileRow, error)
	ReplaceRows(ctx context.Context, rows []ProfileRow) error
	Count(ctx context.Context) (int, error)
}
