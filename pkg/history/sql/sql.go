// Package sql is a history store kept in a SQL database; either
// SQLite (the default) or PostgreSQL.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	// The drivers we know how to talk to
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fluxcd/ecsdeploy/pkg/deployment"
	"github.com/fluxcd/ecsdeploy/pkg/history"
	"github.com/fluxcd/ecsdeploy/pkg/manifest"
)

const table = "deployments"

var columns = []string{
	"app_name", "environment", "deployment_timestamp", "active",
	"tasks", "deployment_information",
	"parent_app_name", "parent_deployment_timestamp",
}

// Store is a history.Store backed by a sql.DB.
type Store struct {
	conn   *sql.DB
	sb     sq.StatementBuilderType
	logger log.Logger
}

var _ history.Store = &Store{}

// DriverForScheme translates the scheme of a history source URL into
// a database/sql driver name. SQLite databases are given as
// `sqlite3:///path/to/file.db` or `file:///path/to/file.db`.
func DriverForScheme(scheme string) string {
	switch scheme {
	case "file", "sqlite", "sqlite3":
		return "sqlite3"
	case "postgresql", "postgres":
		return "postgres"
	default:
		return scheme
	}
}

// Open connects to the database at the URL given, creating the table
// if necessary.
func Open(dburl string, logger log.Logger) (*Store, error) {
	u, err := url.Parse(dburl)
	if err != nil {
		return nil, errors.Wrap(err, "parsing history source URL")
	}
	driver := DriverForScheme(u.Scheme)
	source := dburl
	if driver == "sqlite3" {
		source = u.Path
		if u.Opaque != "" {
			source = u.Opaque
		}
	}
	return New(driver, source, logger)
}

func New(driver, datasource string, logger log.Logger) (*Store, error) {
	conn, err := sql.Open(driver, datasource)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		// SQLite allows one writer at a time; queueing in the pool is
		// kinder than SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}
	s := &Store{
		conn:   conn,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(conn),
		logger: log.With(logger, "component", "history", "driver", driver),
	}
	if err := s.ensureTables(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.sanityCheck(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) ensureTables() (err error) {
	logger := log.With(s.logger, "method", "ensureTables")
	defer func() {
		if err != nil {
			logger.Log("err", err)
		}
	}()

	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS deployments
             (app_name                    TEXT    NOT NULL,
              environment                 TEXT    NOT NULL,
              deployment_timestamp        BIGINT  NOT NULL,
              active                      INTEGER NOT NULL,
              tasks                       TEXT    NOT NULL,
              deployment_information      TEXT    NOT NULL,
              parent_app_name             TEXT,
              parent_deployment_timestamp BIGINT,
              PRIMARY KEY (app_name, deployment_timestamp))`,
		`CREATE INDEX IF NOT EXISTS deployments_active_idx
             ON deployments (app_name, active, environment)`,
	} {
		if _, err = tx.Exec(stmt); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "creating history table")
		}
	}
	return tx.Commit()
}

func (s *Store) sanityCheck() error {
	rows, err := s.sb.Select(columns...).From(table).Limit(1).Query()
	if err != nil {
		return errors.Wrap(err, "sanity checking history table")
	}
	return rows.Close()
}

func (s *Store) selectDeployments() sq.SelectBuilder {
	return s.sb.Select(columns...).From(table)
}

func (s *Store) scanDeployments(ctx context.Context, query sq.SelectBuilder) ([]deployment.Deployment, error) {
	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ds []deployment.Deployment
	for rows.Next() {
		var (
			d               deployment.Deployment
			active          int
			tasks, info     []byte
			parentApp       sql.NullString
			parentTimestamp sql.NullInt64
		)
		if err := rows.Scan(
			&d.AppName,
			&d.Environment,
			&d.DeploymentTimestamp,
			&active,
			&tasks,
			&info,
			&parentApp,
			&parentTimestamp,
		); err != nil {
			return nil, err
		}
		d.Active = active == 1
		if err := json.Unmarshal(tasks, &d.Tasks); err != nil {
			return nil, errors.Wrapf(err, "unmarshaling tasks of %s", d.Ref())
		}
		var cfg manifest.Configuration
		if err := json.Unmarshal(info, &cfg); err != nil {
			return nil, errors.Wrapf(err, "unmarshaling deployment information of %s", d.Ref())
		}
		d.DeploymentInformation = cfg
		if parentApp.Valid {
			d.ParentDeployment = &deployment.Ref{
				AppName:             parentApp.String,
				DeploymentTimestamp: parentTimestamp.Int64,
			}
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}

func (s *Store) GetCurrentActive(ctx context.Context, appName, environment string) (*deployment.Deployment, error) {
	ds, err := s.scanDeployments(ctx, s.selectDeployments().
		Where(sq.Eq{"app_name": appName, "active": 1, "environment": environment}).
		OrderBy("deployment_timestamp DESC"))
	if err != nil {
		return nil, history.Unavailable("GetCurrentActive", err)
	}
	if len(ds) == 0 {
		return nil, nil
	}
	if len(ds) > 1 {
		s.logger.Log("method", "GetCurrentActive", "app", appName, "environment", environment, "active", len(ds), "warning", "more than one active deployment; using the newest")
	}
	return &ds[0], nil
}

func (s *Store) Get(ctx context.Context, ref *deployment.Ref) (*deployment.Deployment, error) {
	if ref == nil {
		return nil, nil
	}
	d, err := s.get(ctx, *ref)
	if err != nil {
		return nil, history.Unavailable("Get", err)
	}
	return d, nil
}

func (s *Store) get(ctx context.Context, ref deployment.Ref) (*deployment.Deployment, error) {
	ds, err := s.scanDeployments(ctx, s.selectDeployments().
		Where(sq.Eq{"app_name": ref.AppName, "deployment_timestamp": ref.DeploymentTimestamp}))
	if err != nil || len(ds) == 0 {
		return nil, err
	}
	return &ds[0], nil
}

func (s *Store) SetActive(ctx context.Context, ref deployment.Ref, active bool) (*deployment.Deployment, error) {
	var flag int
	if active {
		flag = 1
	}
	res, err := s.sb.Update(table).
		Set("active", flag).
		Where(sq.Eq{"app_name": ref.AppName, "deployment_timestamp": ref.DeploymentTimestamp}).
		ExecContext(ctx)
	if err != nil {
		return nil, history.Unavailable("SetActive", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, history.Unavailable("SetActive", err)
	} else if n == 0 {
		return nil, history.NotFound("SetActive", ref)
	}
	d, err := s.get(ctx, ref)
	if err != nil {
		return nil, history.Unavailable("SetActive", err)
	}
	if d == nil {
		return nil, history.NotFound("SetActive", ref)
	}
	return d, nil
}

func (s *Store) Deactivate(ctx context.Context, ref deployment.Ref) error {
	res, err := s.sb.Update(table).
		Set("active", 0).
		Where(sq.Eq{"app_name": ref.AppName, "deployment_timestamp": ref.DeploymentTimestamp, "active": 1}).
		ExecContext(ctx)
	if err != nil {
		return history.Unavailable("Deactivate", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return history.Unavailable("Deactivate", err)
	}
	if n > 0 {
		return nil
	}
	// Nothing changed; either it's not there, or it's not active.
	d, err := s.get(ctx, ref)
	if err != nil {
		return history.Unavailable("Deactivate", err)
	}
	if d == nil {
		return history.NotFound("Deactivate", ref)
	}
	return history.NotActive("Deactivate", ref)
}

func (s *Store) Put(ctx context.Context, d deployment.Deployment) error {
	tasks, err := json.Marshal(d.Tasks)
	if err != nil {
		return errors.Wrap(err, "marshaling tasks")
	}
	info, err := json.Marshal(d.DeploymentInformation)
	if err != nil {
		return errors.Wrap(err, "marshaling deployment information")
	}
	var (
		active          int
		parentApp       sql.NullString
		parentTimestamp sql.NullInt64
	)
	if d.Active {
		active = 1
	}
	if d.ParentDeployment != nil {
		parentApp = sql.NullString{String: d.ParentDeployment.AppName, Valid: true}
		parentTimestamp = sql.NullInt64{Int64: d.ParentDeployment.DeploymentTimestamp, Valid: true}
	}

	return s.Transaction(ctx, func(tx sq.StatementBuilderType) error {
		var count int
		if err := tx.Select("COUNT(*)").From(table).
			Where(sq.Eq{"app_name": d.AppName, "deployment_timestamp": d.DeploymentTimestamp}).
			QueryRowContext(ctx).Scan(&count); err != nil {
			return history.Unavailable("Put", err)
		}
		if count > 0 {
			return history.Exists("Put", d.Ref())
		}
		_, err := tx.Insert(table).
			Columns(columns...).
			Values(d.AppName, d.Environment, d.DeploymentTimestamp, active, string(tasks), string(info), parentApp, parentTimestamp).
			ExecContext(ctx)
		if err != nil {
			return history.Unavailable("Put", err)
		}
		return nil
	})
}

func (s *Store) ListActive(ctx context.Context) ([]deployment.Deployment, error) {
	ds, err := s.scanDeployments(ctx, s.selectDeployments().
		Where(sq.Eq{"active": 1}).
		OrderBy("deployment_timestamp DESC", "app_name"))
	if err != nil {
		return nil, history.Unavailable("ListActive", err)
	}
	return ds, nil
}

func (s *Store) History(ctx context.Context, appName, environment string, limit int) ([]deployment.Deployment, error) {
	q := s.selectDeployments().
		Where(sq.Eq{"app_name": appName, "environment": environment}).
		OrderBy("deployment_timestamp DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	ds, err := s.scanDeployments(ctx, q)
	if err != nil {
		return nil, history.Unavailable("History", err)
	}
	return ds, nil
}

// Transaction runs fn with a statement builder bound to a transaction,
// committing if fn returns nil and rolling back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(sq.StatementBuilderType) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return history.Unavailable("begin", err)
	}
	if err := fn(s.sb.RunWith(tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.logger.Log("method", "Transaction", "err", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return history.Unavailable("commit", err)
	}
	return nil
}
