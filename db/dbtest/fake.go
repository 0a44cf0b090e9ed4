// Package dbtest provides in-process stand-ins for pgx transactions so
// services can be unit tested against fake repositories.
package dbtest

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out a fresh Tx on every Begin and remembers all of them.
type Pool struct {
	BeginErr error
	Txs      []*Tx
}

func (p *Pool) Begin(context.Context) (pgx.Tx, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	tx := &Tx{}
	p.Txs = append(p.Txs, tx)
	return tx, nil
}

// Last returns the most recent transaction or nil.
func (p *Pool) Last() *Tx {
	if len(p.Txs) == 0 {
		return nil
	}
	return p.Txs[len(p.Txs)-1]
}

// Committed counts transactions that reached Commit.
func (p *Pool) Committed() int {
	n := 0
	for _, tx := range p.Txs {
		if tx.Committed {
			n++
		}
	}
	return n
}

// Tx records Commit and Rollback. Query methods panic: repositories are
// expected to be faked alongside it.
type Tx struct {
	Committed  bool
	RolledBack bool
	CommitErr  error
}

func (f *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("dbtest: nested transactions not supported")
}

func (f *Tx) Commit(context.Context) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = true
	return nil
}

func (f *Tx) Rollback(context.Context) error {
	if !f.Committed {
		f.RolledBack = true
	}
	return nil
}

func (f *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *Tx) Conn() *pgx.Conn {
	return nil
}
