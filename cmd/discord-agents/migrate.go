package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wayne930242/discord-agents/internal/config"
	"github.com/wayne930242/discord-agents/internal/configstore"
	"github.com/wayne930242/discord-agents/internal/usage"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the config and usage schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}

			configStore := configstore.NewGormStore(db)
			if err := configStore.Migrate(); err != nil {
				return fmt.Errorf("migrate config store: %w", err)
			}

			usageSink := usage.NewGormSink(db)
			if err := usageSink.Migrate(); err != nil {
				return fmt.Errorf("migrate usage sink: %w", err)
			}

			fmt.Println("migration complete")
			return nil
		},
	}
}
