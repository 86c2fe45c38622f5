package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
	"testing"

	"shrimptrace/pkg/domain"
)

// stubConn implements just enough of database/sql/driver to exercise the
// store without a live Postgres server.
type stubConn struct {
	mu    sync.Mutex
	execs []string
}

func (c *stubConn) Prepare(query string) (driver.Stmt, error) { return &stubStmt{conn: c, query: query}, nil }
func (c *stubConn) Close() error                              { return nil }
func (c *stubConn) Begin() (driver.Tx, error)                 { return stubTx{}, nil }
func (c *stubConn) Ping(context.Context) error                { return nil }

func (c *stubConn) record(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, query)
}

type stubStmt struct {
	conn  *stubConn
	query string
}

func (s *stubStmt) Close() error  { return nil }
func (s *stubStmt) NumInput() int { return -1 }
func (s *stubStmt) Exec([]driver.Value) (driver.Result, error) {
	s.conn.record(s.query)
	return driver.RowsAffected(1), nil
}
func (s *stubStmt) Query([]driver.Value) (driver.Rows, error) {
	s.conn.record(s.query)
	return emptyRows{}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type emptyRows struct{}

func (emptyRows) Columns() []string         { return []string{"bucket", "payload"} }
func (emptyRows) Close() error              { return nil }
func (emptyRows) Next([]driver.Value) error { return io.EOF }

type stubDriver struct{ conn *stubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func newStubDB() (*sql.DB, *stubConn) {
	conn := &stubConn{}
	connector := sql.OpenDB(stubConnector{conn: conn})
	return connector, conn
}

type stubConnector struct{ conn *stubConn }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c stubConnector) Driver() driver.Driver                        { return stubDriver{conn: c.conn} }

func TestNewStoreEnsuresStateTable(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if store.DB() == nil {
		t.Fatalf("expected db handle")
	}
	sawDDL := false
	conn.mu.Lock()
	for _, stmt := range conn.execs {
		if len(stmt) >= 12 && stmt[:12] == "CREATE TABLE" {
			sawDDL = true
		}
	}
	conn.mu.Unlock()
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.execs)
	}
}

func TestRunInTransactionPersistsState(t *testing.T) {
	db, conn := newStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateNode(domain.Node{Name: "Cold Storage", Type: domain.NodeProcessor})
		return e
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	upserts := 0
	conn.mu.Lock()
	for _, stmt := range conn.execs {
		if len(stmt) >= 6 && stmt[:6] == "INSERT" {
			upserts++
		}
	}
	conn.mu.Unlock()
	if upserts != len(postgresBuckets) {
		t.Fatalf("expected %d bucket upserts, got %d", len(postgresBuckets), upserts)
	}
	if len(store.ListNodes()) != 1 {
		t.Fatalf("expected node committed in memory")
	}
}
