// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package daemon

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"fgp/postgres/internal/errors"
	"fgp/postgres/internal/pool"
	"fgp/postgres/internal/protocol"
	"fgp/postgres/internal/sqlexec"
)

// handlerFunc is the signature every method handler implements. sess is
// nil for methods that run without a backend session.
type handlerFunc func(ctx context.Context, sess pool.Session, params json.RawMessage) (any, error)

// method is one entry of the dispatch table.
type method struct {
	name        string
	description string
	session     bool // whether dispatch leases a backend session
	handler     handlerFunc
}

// MethodInfo describes a method for daemon.methods.
type MethodInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// sqlSession is what the SQL handlers need from a session. *pgx.Conn
// satisfies it through the sqlexec interfaces.
type sqlSession interface {
	sqlexec.Querier
	sqlexec.Execer
}

// registerMethods builds the dispatch table. Each postgres operation is
// reachable both with and without the domain prefix, matching what
// clients send.
func (s *Server) registerMethods() {
	s.methods = make(map[string]*method)

	add := func(m *method) {
		s.methods[m.name] = m
		// Bare alias: "postgres.query" is also callable as "query".
		if _, op := protocol.SplitMethod(m.name); op != m.name {
			s.methods[op] = m
		}
	}

	add(&method{
		name:        "health",
		description: "Check daemon and backend health",
		session:     true,
		handler:     s.handleHealth,
	})
	add(&method{
		name:        "postgres.query",
		description: "Execute a SQL SELECT query and return results",
		session:     true,
		handler:     s.handleQuery,
	})
	add(&method{
		name:        "postgres.execute",
		description: "Execute a non-SELECT statement (INSERT, UPDATE, DELETE)",
		session:     true,
		handler:     s.handleExecute,
	})
	add(&method{
		name:        "postgres.transaction",
		description: "Execute multiple statements atomically in a transaction",
		session:     true,
		handler:     s.handleTransaction,
	})
	add(&method{
		name:        "postgres.tables",
		description: "List tables in a schema",
		session:     true,
		handler:     s.handleTables,
	})
	add(&method{
		name:        "postgres.schema",
		description: "Get table schema (columns, constraints, indexes)",
		session:     true,
		handler:     s.handleSchema,
	})
	add(&method{
		name:        "postgres.schemas",
		description: "List all schemas in the database",
		session:     true,
		handler:     s.handleSchemas,
	})
	add(&method{
		name:        "postgres.stats",
		description: "Get database statistics (size, connections, table count)",
		session:     true,
		handler:     s.handleStats,
	})
	add(&method{
		name:        "daemon.stop",
		description: "Shut the daemon down gracefully",
		handler:     s.handleStop,
	})
	add(&method{
		name:        "daemon.methods",
		description: "List available methods",
		handler:     s.handleMethods,
	})
}

// decodeParams unmarshals the params object of a request. Absent params
// decode to the zero value; required fields are checked by the callers.
func decodeParams[T any](raw json.RawMessage) (*T, error) {
	var p T
	if len(raw) == 0 {
		return &p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(errors.InvalidParams, "malformed params", err)
	}
	return &p, nil
}

// sqlFrom asserts that a leased session can run SQL.
func sqlFrom(sess pool.Session) (sqlSession, error) {
	db, ok := sess.(sqlSession)
	if !ok {
		return nil, errors.New(errors.Internal, "session cannot execute SQL")
	}
	return db, nil
}

type queryParams struct {
	SQL string `json:"sql"`
}

type transactionParams struct {
	Statements []string `json:"statements"`
}

type tablesParams struct {
	Schema string `json:"schema"`
}

type schemaParams struct {
	Table  string `json:"table"`
	Schema string `json:"schema"`
}

func (s *Server) handleQuery(ctx context.Context, sess pool.Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[queryParams](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SQL) == "" {
		return nil, errors.New(errors.InvalidParams, "missing required parameter: sql")
	}
	db, err := sqlFrom(sess)
	if err != nil {
		return nil, err
	}
	return sqlexec.Query(ctx, db, p.SQL)
}

func (s *Server) handleExecute(ctx context.Context, sess pool.Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[queryParams](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SQL) == "" {
		return nil, errors.New(errors.InvalidParams, "missing required parameter: sql")
	}
	db, err := sqlFrom(sess)
	if err != nil {
		return nil, err
	}
	return sqlexec.Execute(ctx, db, p.SQL)
}

func (s *Server) handleTransaction(ctx context.Context, sess pool.Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[transactionParams](raw)
	if err != nil {
		return nil, err
	}
	if len(p.Statements) == 0 {
		return nil, errors.New(errors.InvalidParams, "missing required parameter: statements (non-empty array)")
	}
	db, err := sqlFrom(sess)
	if err != nil {
		return nil, err
	}
	return sqlexec.Transaction(ctx, db, p.Statements)
}

func (s *Server) handleTables(ctx context.Context, sess pool.Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[tablesParams](raw)
	if err != nil {
		return nil, err
	}
	if p.Schema == "" {
		p.Schema = "public"
	}
	db, err := sqlFrom(sess)
	if err != nil {
		return nil, err
	}
	return sqlexec.Tables(ctx, db, p.Schema)
}

func (s *Server) handleSchema(ctx context.Context, sess pool.Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[schemaParams](raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Table) == "" {
		return nil, errors.New(errors.InvalidParams, "missing required parameter: table")
	}
	if p.Schema == "" {
		p.Schema = "public"
	}
	db, err := sqlFrom(sess)
	if err != nil {
		return nil, err
	}
	return sqlexec.TableSchema(ctx, db, p.Table, p.Schema)
}

func (s *Server) handleSchemas(ctx context.Context, sess pool.Session, _ json.RawMessage) (any, error) {
	db, err := sqlFrom(sess)
	if err != nil {
		return nil, err
	}
	return sqlexec.Schemas(ctx, db)
}

func (s *Server) handleStats(ctx context.Context, sess pool.Session, _ json.RawMessage) (any, error) {
	db, err := sqlFrom(sess)
	if err != nil {
		return nil, err
	}
	return sqlexec.Stats(ctx, db)
}

func (s *Server) handleHealth(ctx context.Context, sess pool.Session, _ json.RawMessage) (any, error) {
	db, err := sqlFrom(sess)
	if err != nil {
		return nil, err
	}

	status := "healthy"
	if err := sqlexec.Ping(ctx, db); err != nil {
		status = "unhealthy"
	}

	open, idle := s.pool.Stats()
	report := map[string]any{
		"status":   status,
		"pid":      os.Getpid(),
		"uptime":   time.Since(s.startedAt).Truncate(time.Second).String(),
		"requests": s.requests.Load(),
		"pool": map[string]int{
			"open": open,
			"idle": idle,
		},
	}
	if s.info != nil {
		report["database"] = s.info.Database
		report["host"] = s.info.Host
		report["port"] = s.info.Port
	}
	return report, nil
}

func (s *Server) handleStop(context.Context, pool.Session, json.RawMessage) (any, error) {
	s.log.Info("shutdown requested")
	go s.Stop()
	return map[string]bool{"stopping": true}, nil
}

func (s *Server) handleMethods(context.Context, pool.Session, json.RawMessage) (any, error) {
	seen := make(map[string]bool)
	var infos []MethodInfo
	for _, m := range s.methods {
		if seen[m.name] {
			continue
		}
		seen[m.name] = true
		infos = append(infos, MethodInfo{Name: m.name, Description: m.description})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return map[string]any{"methods": infos}, nil
}
