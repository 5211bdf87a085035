package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omegacore/omegad/internal/config"
	"github.com/omegacore/omegad/internal/memory"
)

// migrateCmd applies internal/memory's embedded schema migrations and
// exits. Unlike the teacher's Postgres/golang-migrate tooling, omegad's
// SQLite store applies its migrations inline on every Open call, so this
// subcommand exists only to let an operator verify schema currency without
// starting the full gateway.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending memory store schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintln(os.Stderr, "omegad: load config:", err)
				os.Exit(1)
			}
			store, err := memory.Open(cfg.MemoryDBPath())
			if err != nil {
				fmt.Fprintln(os.Stderr, "omegad: migrate:", err)
				os.Exit(1)
			}
			defer store.Close()
			fmt.Println("omegad: memory store schema is current at", cfg.MemoryDBPath())
		},
	}
}
