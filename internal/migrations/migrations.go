package migrations

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is a row of the migration tracking table
type Migration struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"size:255;not null;unique"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// MigrationFunc is a function that performs a migration
type MigrationFunc func(*gorm.DB) error

// MigrationDefinition defines a migration with its metadata
type MigrationDefinition struct {
	Version  string
	Name     string
	Migrate  MigrationFunc
	Rollback MigrationFunc // Optional rollback function
}

// MigrationStatus pairs a known migration with the time it was applied.
type MigrationStatus struct {
	Version   string
	Name      string
	AppliedAt *time.Time
}

// Populated by the init functions of the versions package
var migrations []MigrationDefinition

// RegisterMigration adds a migration to the list of available migrations
func RegisterMigration(version, name string, migrateFn MigrationFunc) {
	RegisterMigrationWithRollback(version, name, migrateFn, nil)
}

// RegisterMigrationWithRollback adds a migration with rollback capability
func RegisterMigrationWithRollback(version, name string, migrateFn, rollbackFn MigrationFunc) {
	for _, m := range migrations {
		if m.Version == version {
			panic(fmt.Sprintf("migration %s registered twice", version))
		}
	}
	migrations = append(migrations, MigrationDefinition{
		Version:  version,
		Name:     name,
		Migrate:  migrateFn,
		Rollback: rollbackFn,
	})
}

// Definitions returns the registered migrations sorted by version.
func Definitions() []MigrationDefinition {
	defs := append([]MigrationDefinition(nil), migrations...)
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Version < defs[j].Version
	})
	return defs
}

// Migrator applies and rolls back the registered migrations
type Migrator struct {
	db  *gorm.DB
	out io.Writer
}

// NewMigrator creates a migrator that reports progress on stdout
func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{db: db, out: os.Stdout}
}

// WithOutput redirects progress messages
func (m *Migrator) WithOutput(w io.Writer) *Migrator {
	m.out = w
	return m
}

// EnsureMigrationTable makes sure the migration tracking table exists
func (m *Migrator) EnsureMigrationTable() error {
	return m.db.AutoMigrate(&Migration{})
}

// GetAppliedMigrations returns all migrations that have been applied
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	if err := m.EnsureMigrationTable(); err != nil {
		return nil, fmt.Errorf("failed to create migration table: %w", err)
	}
	var applied []Migration
	if err := m.db.Order("version").Find(&applied).Error; err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	return applied, nil
}

// MigrateUp applies all pending migrations and returns how many ran
func (m *Migrator) MigrateUp() (int, error) {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return 0, err
	}
	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}

	n := 0
	for _, migration := range Definitions() {
		if done[migration.Version] {
			continue
		}
		fmt.Fprintf(m.out, "Applying migration %s: %s\n", migration.Version, migration.Name)

		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Migrate(tx); err != nil {
				return err
			}
			return tx.Create(&Migration{
				Version:   migration.Version,
				Name:      migration.Name,
				AppliedAt: time.Now(),
			}).Error
		})
		if err != nil {
			return n, fmt.Errorf("failed to apply migration '%s': %w", migration.Version, err)
		}
		n++
	}
	return n, nil
}

// MigrateDown rolls back the last applied migration
func (m *Migrator) MigrateDown() error {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(m.out, "No migrations to roll back")
		return nil
	}
	last := applied[len(applied)-1]

	var target *MigrationDefinition
	for _, migration := range Definitions() {
		if migration.Version == last.Version {
			target = &migration
			break
		}
	}
	if target == nil {
		return fmt.Errorf("could not find migration with version %s to roll back", last.Version)
	}
	if target.Rollback == nil {
		return fmt.Errorf("migration %s does not support rollback", last.Version)
	}

	fmt.Fprintf(m.out, "Rolling back migration %s: %s\n", last.Version, last.Name)
	err = m.db.Transaction(func(tx *gorm.DB) error {
		if err := target.Rollback(tx); err != nil {
			return err
		}
		return tx.Delete(&Migration{}, "version = ?", last.Version).Error
	})
	if err != nil {
		return fmt.Errorf("failed to roll back migration '%s': %w", last.Version, err)
	}
	return nil
}

// Status lists every registered migration with its applied time, if any
func (m *Migrator) Status() ([]MigrationStatus, error) {
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return nil, err
	}
	return statusOf(Definitions(), applied), nil
}

func statusOf(defs []MigrationDefinition, applied []Migration) []MigrationStatus {
	at := make(map[string]time.Time, len(applied))
	for _, a := range applied {
		at[a.Version] = a.AppliedAt
	}
	out := make([]MigrationStatus, 0, len(defs))
	for _, d := range defs {
		s := MigrationStatus{Version: d.Version, Name: d.Name}
		if t, ok := at[d.Version]; ok {
			s.AppliedAt = &t
		}
		out = append(out, s)
	}
	return out
}
