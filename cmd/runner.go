package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Ken-Brill-Personal/Sandcastle/internal/repositories"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/services"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/shared"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/tasks"
	"github.com/Ken-Brill-Personal/Sandcastle/internal/telemetry"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Stores, schema and database are opened on first use unless injected through [RunnerOpts].
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer

	source services.RecordStore
	target services.RecordStore
	schema services.SchemaProvider
	db     *sql.DB
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Source     services.RecordStore
	Target     services.RecordStore
	Schema     services.SchemaProvider
	DB         *sql.DB
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		source:     opts.Source,
		target:     opts.Target,
		schema:     opts.Schema,
		db:         opts.DB,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, migrateCommand, resetCommand, mappingsCommand, runsCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Close releases the database when the runner opened it.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// stores returns the source and target stores, building REST clients from config when none were injected.
func (r *Runner) stores(ctx context.Context, metrics *telemetry.Metrics) (services.RecordStore, services.RecordStore, error) {
	if err := r.config.Validate(); err != nil {
		return nil, nil, err
	}

	if r.source == nil {
		store, err := services.NewRESTStore(ctx, r.config.Source, r.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("source store: %w", err)
		}
		if metrics != nil {
			store.SetObserver(metrics.ObserveRequest)
		}
		r.source = store
	}
	if r.target == nil {
		store, err := services.NewRESTStore(ctx, r.config.Target, r.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("target store: %w", err)
		}
		if metrics != nil {
			store.SetObserver(metrics.ObserveRequest)
		}
		r.target = store
	}
	return r.source, r.target, nil
}

// schemaProvider picks the YAML provider for a fields.yaml path and the CSV provider for a directory.
func (r *Runner) schemaProvider() (services.SchemaProvider, error) {
	if r.schema != nil {
		return r.schema, nil
	}

	path := r.config.Migration.SchemaPath
	if path == "" {
		return nil, fmt.Errorf("%w: migration.schema_path is required", shared.ErrMissingConfig)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSchemaNotFound, err)
	}

	switch {
	case info.IsDir():
		r.schema = services.NewCSVSchemaProvider(path, r.logger)
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		r.schema = services.NewYAMLSchemaProvider(path, r.logger)
	default:
		return nil, fmt.Errorf("%w: schema_path must be a fields.yaml file or a directory of CSV files", shared.ErrInvalidConfig)
	}
	return r.schema, nil
}

// database opens and migrates the mapping database on first use.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, err
	}
	r.db = db
	return db, nil
}

// engine wires the stores, schema and metrics into a migration engine.
func (r *Runner) engine(ctx context.Context, metrics *telemetry.Metrics) (*tasks.Engine, error) {
	source, target, err := r.stores(ctx, metrics)
	if err != nil {
		return nil, err
	}
	schema, err := r.schemaProvider()
	if err != nil {
		return nil, err
	}

	engine := tasks.NewEngine(source, target, schema, tasks.OptionsFromConfig(r.config.Migration), r.logger)
	if metrics != nil {
		engine.SetMetrics(metrics)
	}
	return engine, nil
}

// persistentEngine is [Runner.engine] with mappings saved to, and resumed from, the mapping database.
func (r *Runner) persistentEngine(ctx context.Context, metrics *telemetry.Metrics) (*tasks.Engine, *sql.DB, error) {
	engine, err := r.engine(ctx, metrics)
	if err != nil {
		return nil, nil, err
	}
	db, err := r.database()
	if err != nil {
		return nil, nil, err
	}

	mappings := repositories.NewMappingRepository(db)
	engine.SetSink(mappings)
	engine.SetMappingSource(mappings)
	return engine, db, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
