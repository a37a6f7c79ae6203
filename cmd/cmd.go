// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for configuration and the mapping database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Create config.toml if missing, initialize the mapping database and run migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:   "status",
				Usage:  "Show applied schema migrations and live mapping counts",
				Action: r.SetupStatus,
			},
		},
	}
}

// authCommand checks store credentials
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage record store authentication",
		Commands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Fetch an access token for the source and target stores",
				Action: r.AuthCheck,
			},
		},
	}
}

// migrateCommand runs or plans a migration
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Copy the configured account hierarchies from source to target",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the full cascade: accounts, related records, then reference patches",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Skip records mapped by earlier runs (overrides migration.resume)",
					},
					&cli.StringSliceFlag{
						Name:    "account",
						Aliases: []string{"a"},
						Usage:   "Root account id; replaces migration.accounts when given",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the run summary as JSON",
					},
				},
				Action: r.MigrateRun,
			},
			{
				Name:  "plan",
				Usage: "Fetch the root accounts and print their creation waves without writing anything",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, json or dot",
						Value:   "text",
					},
					&cli.StringSliceFlag{
						Name:    "account",
						Aliases: []string{"a"},
						Usage:   "Root account id; replaces migration.accounts when given",
					},
				},
				Action: r.MigratePlan,
			},
		},
	}
}

// resetCommand deletes migrated records from the target
func resetCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Delete migrated record types from the target and forget persisted mappings",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Confirm the deletion",
			},
			&cli.BoolFlag{
				Name:  "keep-mappings",
				Usage: "Leave persisted mappings in place",
			},
		},
		Action: r.Reset,
	}
}

// mappingsCommand lists and exports persisted mappings
func mappingsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "mappings",
		Usage: "Inspect persisted source → target id mappings",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List persisted mappings",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Record type to list",
					},
					&cli.StringFlag{
						Name:  "run",
						Usage: "Run id to list",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.MappingsList,
			},
			{
				Name:  "export",
				Usage: "Export persisted mappings with their original field values",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: csv, json or markdown",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "type",
						Aliases: []string{"t"},
						Usage:   "Record type to export",
					},
					&cli.StringFlag{
						Name:  "run",
						Usage: "Run id to export",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: mappings.<ext>)",
					},
				},
				Action: r.MappingsExport,
			},
		},
	}
}

// runsCommand shows run history
func runsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "Inspect migration run history",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only runs with this status (running, completed, failed)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to show",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.RunsList,
			},
		},
	}
}
