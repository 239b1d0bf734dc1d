package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	admin "cloud.google.com/go/spanner/admin/database/apiv1"
	"cloud.google.com/go/spanner/admin/database/apiv1/databasepb"
	instanceadmin "cloud.google.com/go/spanner/admin/instance/apiv1"
	"cloud.google.com/go/spanner/admin/instance/apiv1/instancepb"
	"github.com/samber/lo"
	"github.com/wuyiadepoju/planchange/internal/config"
	ierr "github.com/wuyiadepoju/planchange/internal/errors"
	"github.com/wuyiadepoju/planchange/internal/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

var createStatement = regexp.MustCompile(`(?i)^CREATE\s+(?:UNIQUE\s+)?(?:NULL_FILTERED\s+)?(TABLE|INDEX)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// RunMigrations creates the instance and database when missing and applies
// every embedded DDL statement the database does not have yet.
func RunMigrations(ctx context.Context, cfg config.SpannerConfig, log *logger.Logger) error {
	statements, err := LoadStatements()
	if err != nil {
		return err
	}
	if len(statements) == 0 {
		log.Infow("no migration statements found")
		return nil
	}

	if cfg.EmulatorHost != "" {
		log.Infow("using spanner emulator", "emulator_host", cfg.EmulatorHost)
	}

	if err := ensureInstance(ctx, cfg, log); err != nil {
		return err
	}

	adminClient, err := admin.NewDatabaseAdminClient(ctx, cfg.ClientOptions()...)
	if err != nil {
		return ierr.WithError(err).WithMessage("failed to create database admin client").Mark(ierr.ErrSystem)
	}
	defer adminClient.Close()

	databasePath := cfg.DatabasePath()
	_, err = adminClient.GetDatabase(ctx, &databasepb.GetDatabaseRequest{Name: databasePath})
	if err != nil {
		if st, ok := status.FromError(err); !ok || st.Code() != codes.NotFound {
			return ierr.WithError(err).WithMessage("failed to check database existence").Mark(ierr.ErrSystem)
		}

		log.Infow("database does not exist, creating with migrations", "database", cfg.Database)
		op, err := adminClient.CreateDatabase(ctx, &databasepb.CreateDatabaseRequest{
			Parent:          cfg.InstancePath(),
			CreateStatement: fmt.Sprintf("CREATE DATABASE `%s`", cfg.Database),
			ExtraStatements: statements,
		})
		if err != nil {
			return ierr.WithError(err).WithMessage("failed to create database").Mark(ierr.ErrSystem)
		}
		db, err := op.Wait(ctx)
		if err != nil {
			return ierr.WithError(err).WithMessage("database creation failed").Mark(ierr.ErrSystem)
		}
		log.Infow("database created", "database", db.Name, "statements", len(statements))
		return nil
	}

	ddl, err := adminClient.GetDatabaseDdl(ctx, &databasepb.GetDatabaseDdlRequest{Database: databasePath})
	if err != nil {
		return ierr.WithError(err).WithMessage("failed to read database schema").Mark(ierr.ErrSystem)
	}

	pending := PendingStatements(ddl.GetStatements(), statements)
	if len(pending) == 0 {
		log.Infow("schema is up to date", "database", cfg.Database)
		return nil
	}

	log.Infow("applying migration statements", "database", cfg.Database, "statements", len(pending))
	op, err := adminClient.UpdateDatabaseDdl(ctx, &databasepb.UpdateDatabaseDdlRequest{
		Database:   databasePath,
		Statements: pending,
	})
	if err != nil {
		return ierr.WithError(err).WithMessage("failed to start migrations").Mark(ierr.ErrSystem)
	}
	if err := op.Wait(ctx); err != nil {
		return ierr.WithError(err).WithMessage("failed to complete migrations").Mark(ierr.ErrSystem)
	}

	log.Infow("migrations applied", "database", cfg.Database, "statements", len(pending))
	return nil
}

func ensureInstance(ctx context.Context, cfg config.SpannerConfig, log *logger.Logger) error {
	client, err := instanceadmin.NewInstanceAdminClient(ctx, cfg.ClientOptions()...)
	if err != nil {
		return ierr.WithError(err).WithMessage("failed to create instance admin client").Mark(ierr.ErrSystem)
	}
	defer client.Close()

	_, err = client.GetInstance(ctx, &instancepb.GetInstanceRequest{Name: cfg.InstancePath()})
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != codes.NotFound {
		return ierr.WithError(err).WithMessage("failed to check instance existence").Mark(ierr.ErrSystem)
	}

	log.Infow("instance does not exist, creating", "instance", cfg.Instance)
	op, err := client.CreateInstance(ctx, &instancepb.CreateInstanceRequest{
		Parent:     "projects/" + cfg.Project,
		InstanceId: cfg.Instance,
		Instance: &instancepb.Instance{
			DisplayName: cfg.Instance,
		},
	})
	if err != nil {
		return ierr.WithError(err).WithMessage("failed to create instance").Mark(ierr.ErrSystem)
	}
	if _, err := op.Wait(ctx); err != nil {
		return ierr.WithError(err).WithMessage("instance creation failed").Mark(ierr.ErrSystem)
	}
	return nil
}

// LoadStatements returns the DDL statements of every embedded migration in
// file name order.
func LoadStatements() ([]string, error) {
	names, err := fs.Glob(migrationFiles, "sql/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var statements []string
	for _, name := range names {
		raw, err := migrationFiles.ReadFile(name)
		if err != nil {
			return nil, ierr.WithError(err).WithMessagef("failed to read migration %s", name).Mark(ierr.ErrSystem)
		}
		statements = append(statements, parseDDLStatements(string(raw))...)
	}
	return statements, nil
}

// PendingStatements drops statements that create a table or index the
// existing schema already has.
func PendingStatements(existing, statements []string) []string {
	known := lo.SliceToMap(lo.FilterMap(existing, func(stmt string, _ int) (string, bool) {
		return objectName(stmt)
	}), func(name string) (string, struct{}) {
		return name, struct{}{}
	})

	return lo.Filter(statements, func(stmt string, _ int) bool {
		name, ok := objectName(stmt)
		if !ok {
			return true
		}
		_, exists := known[name]
		return !exists
	})
}

func objectName(stmt string) (string, bool) {
	m := createStatement.FindStringSubmatch(strings.TrimSpace(stmt))
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]) + " " + strings.ToLower(m[2]), true
}

// parseDDLStatements splits a SQL file into individual DDL statements
func parseDDLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if idx := strings.Index(trimmed, "--"); idx >= 0 {
			trimmed = strings.TrimSpace(trimmed[:idx])
		}
		if trimmed == "" {
			continue
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(trimmed)

		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSuffix(current.String(), ";"); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}
