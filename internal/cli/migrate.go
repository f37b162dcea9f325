package cli

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"text/template"
	"unicode"

	"remindme/internal/migrations"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			n, err := conn.Migrator().WithOutput(cmd.OutOrStdout()).MigrateUp()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migrations\n", n)
			return nil
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.Migrator().WithOutput(cmd.OutOrStdout()).MigrateDown()
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show which migrations are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			st, err := conn.Migrator().Status()
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), st, opts.format)
		},
	}

	cmd.AddCommand(up, down, status, newMigrateCreateCmd())
	return cmd
}

func newMigrateCreateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new migration file",
		Long:  `Create a numbered migration file in the versions package, e.g. remindctl migrate create "add reminder tags".`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := nextVersion(migrations.Definitions())
			if err != nil {
				return err
			}
			src, err := renderMigration(version, args[0])
			if err != nil {
				return err
			}
			path := filepath.Join(dir, migrationFileName(version, args[0]))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, src, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", filepath.Join("internal", "migrations", "versions"), "Directory of the versions package")
	return cmd
}

func writeStatus(w io.Writer, st []migrations.MigrationStatus, format string) error {
	if format == "json" {
		return printJSON(w, st)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED AT")
	for _, s := range st {
		applied := "pending"
		if s.AppliedAt != nil {
			applied = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Version, s.Name, applied)
	}
	return tw.Flush()
}

var migrationTemplate = template.Must(template.New("migration").Parse(`package versions

import (
	"remindme/internal/migrations"

	"gorm.io/gorm"
)

func init() {
	migrations.RegisterMigrationWithRollback("{{.Version}}", {{printf "%q" .Name}}, {{.Func}}, rollback{{.Type}})
}

func {{.Func}}(tx *gorm.DB) error {
	return tx.Exec(` + "`" + `
		-- Your SQL here
		-- For example:
		-- ALTER TABLE reminders ADD COLUMN new_column TEXT;
	` + "`" + `).Error
}

func rollback{{.Type}}(tx *gorm.DB) error {
	return tx.Exec(` + "`" + `
		-- ALTER TABLE reminders DROP COLUMN new_column;
	` + "`" + `).Error
}
`))

func nextVersion(defs []migrations.MigrationDefinition) (string, error) {
	last := 0
	for _, d := range defs {
		v, err := strconv.Atoi(d.Version)
		if err != nil {
			return "", fmt.Errorf("migration version %q is not numeric", d.Version)
		}
		last = max(last, v)
	}
	return fmt.Sprintf("%03d", last+1), nil
}

func renderMigration(version, name string) ([]byte, error) {
	words := nameWords(name)
	if len(words) == 0 {
		return nil, fmt.Errorf("migration name %q has no letters", name)
	}
	parts := make([]string, len(words))
	for i, w := range words {
		r := []rune(w)
		parts[i] = string(unicode.ToUpper(r[0])) + string(r[1:])
	}
	typ := strings.Join(parts, "")
	fn := words[0] + strings.Join(parts[1:], "")
	if unicode.IsDigit([]rune(fn)[0]) {
		fn = "migration" + typ
	}

	var buf bytes.Buffer
	err := migrationTemplate.Execute(&buf, map[string]string{
		"Version": version,
		"Name":    strings.TrimSpace(name),
		"Func":    fn,
		"Type":    typ,
	})
	if err != nil {
		return nil, err
	}
	return format.Source(buf.Bytes())
}

func migrationFileName(version, name string) string {
	return version + "_" + strings.Join(nameWords(name), "_") + ".go"
}

func nameWords(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
