package shared

import (
	"testing"
)

func TestMigrationRunner(t *testing.T) {
	t.Run("loadMigrations", func(t *testing.T) {
		migrations, err := loadMigrations()
		if err != nil {
			t.Fatalf("failed to load migrations: %v", err)
		}

		if len(migrations) < 2 {
			t.Fatalf("expected at least two migrations, got %d", len(migrations))
		}

		for i := 1; i < len(migrations); i++ {
			if migrations[i].Version <= migrations[i-1].Version {
				t.Errorf("migrations not sorted: version %d comes after %d", migrations[i].Version, migrations[i-1].Version)
			}
		}

		for _, m := range migrations {
			if m.Up == "" || m.Down == "" {
				t.Errorf("migration version %d missing up or down SQL", m.Version)
			}
			if m.Name == "" {
				t.Errorf("migration version %d has no name", m.Version)
			}
		}
	})

	t.Run("parseMigrationName", func(t *testing.T) {
		tt := []struct {
			file      string
			version   int
			label     string
			direction string
			ok        bool
		}{
			{"0001_create_runs_up.sql", 1, "create_runs", "up", true},
			{"0002_create_record_mappings_down.sql", 2, "create_record_mappings", "down", true},
			{"abcd_create_up.sql", 0, "", "", false},
			{"0003_sideways.sql", 0, "", "", false},
			{"0004_up.sql", 0, "", "", false},
		}

		for _, tc := range tt {
			t.Run(tc.file, func(t *testing.T) {
				version, label, direction, ok := parseMigrationName(tc.file)
				if ok != tc.ok {
					t.Fatalf("ok = %v, want %v", ok, tc.ok)
				}
				if !ok {
					return
				}
				if version != tc.version || label != tc.label || direction != tc.direction {
					t.Errorf("got (%d, %s, %s), want (%d, %s, %s)", version, label, direction, tc.version, tc.label, tc.direction)
				}
			})
		}
	})

	t.Run("RunMigrations And Rollback", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(1)

		if err := RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		status, err := MigrationStatus(db)
		if err != nil {
			t.Fatalf("failed to read migration status: %v", err)
		}
		if len(status) == 0 {
			t.Fatal("expected applied migrations")
		}

		for _, table := range []string{"runs", "record_mappings"} {
			if _, err := db.Exec("SELECT 1 FROM " + table + " LIMIT 1"); err != nil {
				t.Errorf("%s table should exist after migrations: %v", table, err)
			}
		}

		if err := RollbackMigration(db); err != nil {
			t.Fatalf("failed to rollback migration: %v", err)
		}

		after, err := MigrationStatus(db)
		if err != nil {
			t.Fatalf("failed to read migration status after rollback: %v", err)
		}
		if len(after) != len(status)-1 {
			t.Errorf("expected %d applied migrations after rollback, got %d", len(status)-1, len(after))
		}

		if _, err := db.Exec("SELECT 1 FROM record_mappings LIMIT 1"); err == nil {
			t.Error("record_mappings should be dropped by rollback")
		}
	})

	t.Run("Rollback with nothing applied", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(1)

		if err := createMigrationsTable(db); err != nil {
			t.Fatalf("failed to create migrations table: %v", err)
		}
		if err := RollbackMigration(db); err == nil {
			t.Error("expected error when nothing to roll back")
		}
	})

	t.Run("Idempotent Migrations", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(1)

		if err := RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations first time: %v", err)
		}

		if err := RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations second time: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("failed to query schema_migrations: %v", err)
		}

		migrations, _ := loadMigrations()
		if count != len(migrations) {
			t.Errorf("expected %d migrations to be applied, got %d", len(migrations), count)
		}
	})

	t.Run("removeComments", func(t *testing.T) {
		got := removeComments("-- header\nSELECT 1 -- trailing\n\n  FROM x")
		if got != "SELECT 1\nFROM x" {
			t.Errorf("unexpected result %q", got)
		}
	})
}
