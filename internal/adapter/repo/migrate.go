package repo

import (
	"context"
	"fmt"

	"creatorhub/internal/infra"
	"creatorhub/internal/sqlinline"
)

// EnsureSchema creates the postgres tables when they are missing.
func EnsureSchema(ctx context.Context, sql infra.SQLExecutor) error {
	if _, err := sql.Exec(ctx, sqlinline.QSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
