package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"content-batch-pipeline/internal/domain"
	pg "content-batch-pipeline/internal/infra/db/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.usesPostgres() {
				return fmt.Errorf("%w: migrate needs store.driver=postgres", domain.ErrInvalidArgument)
			}
			pool, err := pg.NewPgxPool(cmd.Context(), a.cfg.Database)
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer pool.Close()
			return pg.Migrate(pool, a.log)
		},
	}
}
