package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/andrebq/turnstile/store"
)

// SQLBackend keeps sessions in the sessions table (sid, sess, expire).
type SQLBackend struct {
	ctl *store.Control
}

func NewSQLBackend(ctl *store.Control) *SQLBackend {
	return &SQLBackend{ctl: ctl}
}

func (b *SQLBackend) Get(ctx context.Context, id string) (Record, error) {
	var sess string
	var expire int64
	err := b.ctl.Scan(ctx, []interface{}{&sess, &expire}, `select sess, expire from sessions where sid = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Payload: []byte(sess), ExpiresAt: time.UnixMilli(expire).UTC()}, nil
}

func (b *SQLBackend) Put(ctx context.Context, rec Record) error {
	_, err := b.ctl.Write(ctx, `insert into sessions(sid, sess, expire) values (?, ?, ?)
		on conflict (sid) do update set sess = excluded.sess, expire = excluded.expire`,
		rec.ID, string(rec.Payload), rec.ExpiresAt.UnixMilli())
	return err
}

func (b *SQLBackend) Delete(ctx context.Context, id string) error {
	_, err := b.ctl.Write(ctx, `delete from sessions where sid = ?`, id)
	return err
}

func (b *SQLBackend) Purge(ctx context.Context, now time.Time) (int64, error) {
	return b.ctl.Write(ctx, `delete from sessions where expire <= ?`, now.UnixMilli())
}
