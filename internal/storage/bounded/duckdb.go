package bounded

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/vigil/internal/errors"
	"github.com/xtxerr/vigil/internal/logging"
	"github.com/xtxerr/vigil/internal/storage/compaction"
	"github.com/xtxerr/vigil/internal/storage/types"
)

// DuckDB is the persistent backend.
//
// Tables:
//   - active_samples: the bounded working set, keyed (ts_ms, metric, batch_id)
//   - archived_records: immutable compressed groups of evicted samples
//   - committed_batches: the commit ledger used for idempotent replay
type DuckDB struct {
	db  *sql.DB
	cfg Config
	log *slog.Logger

	// writeMu serializes inserts so a batch's compaction sees its own rows.
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// OpenDuckDB opens the database at cfg.DSN and applies the schema.
func OpenDuckDB(cfg Config) (*DuckDB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	d := &DuckDB{
		db:  db,
		cfg: cfg,
		log: logging.Component("bounded"),
	}

	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// migrate creates the tables. It is idempotent.
func (d *DuckDB) migrate(ctx context.Context) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "active_samples",
			sql: `CREATE TABLE IF NOT EXISTS active_samples (
				ts_ms    BIGINT  NOT NULL,
				metric   VARCHAR NOT NULL,
				value    DOUBLE  NOT NULL,
				batch_id VARCHAR NOT NULL,
				ins      BIGINT  NOT NULL,
				PRIMARY KEY (ts_ms, metric, batch_id)
			)`,
		},
		{
			name: "archive_id_seq",
			sql:  `CREATE SEQUENCE IF NOT EXISTS archive_id_seq START 1`,
		},
		{
			name: "archived_records",
			sql: `CREATE TABLE IF NOT EXISTS archived_records (
				id           BIGINT    PRIMARY KEY,
				archived_at  TIMESTAMP NOT NULL,
				sample_count INTEGER   NOT NULL,
				blob         BLOB      NOT NULL
			)`,
		},
		{
			name: "committed_batches",
			sql: `CREATE TABLE IF NOT EXISTS committed_batches (
				batch_id     VARCHAR   PRIMARY KEY,
				committed_at TIMESTAMP NOT NULL,
				sample_count INTEGER   NOT NULL
			)`,
		},
	}

	for _, m := range migrations {
		if _, err := d.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		d.log.Debug("migration applied", "name", m.name)
	}
	return nil
}

// DB returns the underlying database connection.
// Sinks sharing the store file write their own tables through it.
func (d *DuckDB) DB() *sql.DB {
	return d.db
}

// transaction executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back.
// If fn returns nil, the transaction is committed.
func (d *DuckDB) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (d *DuckDB) checkOpen() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.ErrClosed
	}
	return nil
}

// Insert commits a sealed batch and compacts overflow in one transaction.
// Database failures are reported as transient errors.
func (d *DuckDB) Insert(ctx context.Context, batch *types.Batch) (InsertResult, error) {
	var res InsertResult
	if err := d.checkOpen(); err != nil {
		return res, err
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	rows, rejected, dups := prepareRows(batch)

	var plan []int
	err := d.transaction(ctx, func(tx *sql.Tx) error {
		res = InsertResult{Rejected: rejected, Duplicates: dups}

		var seen int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM committed_batches WHERE batch_id = ?`, batch.ID(),
		).Scan(&seen); err != nil {
			return fmt.Errorf("check ledger: %w", err)
		}
		if seen > 0 {
			res.AlreadyCommitted = true
			return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_samples`).Scan(&res.ActiveCount)
		}

		if len(rows) > 0 {
			var maxIns int64
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(ins), 0) FROM active_samples`,
			).Scan(&maxIns); err != nil {
				return fmt.Errorf("read insertion order: %w", err)
			}

			query, args := buildMultiRowInsert(rows, maxIns+1)
			result, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("insert rows: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			res.Inserted = int(n)
			res.Duplicates += len(rows) - int(n)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO committed_batches (batch_id, committed_at, sample_count) VALUES (?, ?, ?)`,
			batch.ID(), time.Now().UTC(), res.Inserted,
		); err != nil {
			return fmt.Errorf("record ledger: %w", err)
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_samples`).Scan(&count); err != nil {
			return fmt.Errorf("count active: %w", err)
		}

		plan = d.cfg.Policy.Plan(count, d.cfg.MaxEntries, d.cfg.BatchSize)
		for _, n := range plan {
			if err := d.archiveOldest(ctx, tx, n); err != nil {
				return err
			}
			res.ArchiveRecords++
			res.Archived += n
		}

		res.ActiveCount = count - res.Archived
		return nil
	})
	if err != nil {
		if errors.IsMalformed(err) || ctx.Err() != nil {
			return InsertResult{}, err
		}
		return InsertResult{}, errors.NewTransient("insert batch", err)
	}

	if res.Archived > 0 {
		d.log.Debug("compacted active store",
			"batch_id", batch.ID(),
			"plan", compaction.Describe(plan),
			"active", res.ActiveCount,
		)
	}

	return res, nil
}

// archiveOldest moves the n oldest active rows into one archived record.
func (d *DuckDB) archiveOldest(ctx context.Context, tx *sql.Tx, n int) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT ts_ms, metric, value, batch_id, ins
		FROM active_samples
		ORDER BY ts_ms, ins
		LIMIT %d
	`, n))
	if err != nil {
		return fmt.Errorf("select oldest: %w", err)
	}

	samples := make([]types.Sample, 0, n)
	ins := make([]any, 0, n)
	for rows.Next() {
		var s types.Sample
		var metric string
		var order int64
		if err := rows.Scan(&s.TimestampMs, &metric, &s.Value, &s.BatchID, &order); err != nil {
			rows.Close()
			return fmt.Errorf("scan oldest: %w", err)
		}
		s.Metric = types.MetricType(metric)
		samples = append(samples, s)
		ins = append(ins, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate oldest: %w", err)
	}
	rows.Close()

	if len(samples) == 0 {
		return nil
	}

	blob, err := d.cfg.Codec.Encode(samples)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO archived_records (id, archived_at, sample_count, blob)
		VALUES (nextval('archive_id_seq'), ?, ?, ?)
	`, time.Now().UTC(), len(samples), blob); err != nil {
		return fmt.Errorf("insert archive record: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ins)), ",")
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM active_samples WHERE ins IN (`+placeholders+`)`, ins...,
	); err != nil {
		return fmt.Errorf("delete archived rows: %w", err)
	}

	return nil
}

// buildMultiRowInsert builds one INSERT for all rows, assigning insertion
// order from firstIns upward.
func buildMultiRowInsert(rows []types.Sample, firstIns int64) (string, []any) {
	const columnsPerRow = 5

	args := make([]any, 0, len(rows)*columnsPerRow)

	var query strings.Builder
	query.Grow(120 + len(rows)*12)
	query.WriteString(`INSERT INTO active_samples (ts_ms, metric, value, batch_id, ins) VALUES `)

	for i, s := range rows {
		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteString("(?,?,?,?,?)")
		args = append(args, s.TimestampMs, string(s.Metric), s.Value, s.BatchID, firstIns+int64(i))
	}
	query.WriteString(` ON CONFLICT DO NOTHING`)

	return query.String(), args
}

// Count returns the number of active rows.
func (d *DuckDB) Count(ctx context.Context) (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM active_samples`).Scan(&n); err != nil {
		return 0, errors.NewTransient("count active", err)
	}
	return n, nil
}

// Query returns the most recent active samples in ascending time order.
func (d *DuckDB) Query(ctx context.Context, q Query) ([]types.Sample, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT ts_ms, metric, value, batch_id FROM active_samples WHERE 1=1`
	var args []any

	if q.Metric != "" {
		query += ` AND metric = ?`
		args = append(args, string(q.Metric))
	}
	if q.SinceMs > 0 {
		query += ` AND ts_ms > ?`
		args = append(args, q.SinceMs)
	}

	query += ` ORDER BY ts_ms DESC, ins DESC`

	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransient("query samples", err)
	}
	defer rows.Close()

	var out []types.Sample
	for rows.Next() {
		var s types.Sample
		var metric string
		if err := rows.Scan(&s.TimestampMs, &metric, &s.Value, &s.BatchID); err != nil {
			return nil, errors.NewTransient("scan sample", err)
		}
		s.Metric = types.MetricType(metric)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransient("iterate samples", err)
	}

	// Newest first from the database; callers expect ascending time.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Archives returns all archived records in creation order.
func (d *DuckDB) Archives(ctx context.Context) ([]types.ArchivedRecord, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, archived_at, sample_count, blob FROM archived_records ORDER BY id`)
	if err != nil {
		return nil, errors.NewTransient("query archives", err)
	}
	defer rows.Close()

	var out []types.ArchivedRecord
	for rows.Next() {
		var r types.ArchivedRecord
		if err := rows.Scan(&r.ID, &r.ArchivedAt, &r.SampleCount, &r.Blob); err != nil {
			return nil, errors.NewTransient("scan archive", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewTransient("iterate archives", err)
	}
	return out, nil
}

// ArchivedSampleCount returns the number of samples held in archived records.
func (d *DuckDB) ArchivedSampleCount(ctx context.Context) (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	if err := d.db.QueryRowContext(ctx,
		`SELECT CAST(COALESCE(SUM(sample_count), 0) AS BIGINT) FROM archived_records`,
	).Scan(&n); err != nil {
		return 0, errors.NewTransient("count archived", err)
	}
	return int(n), nil
}

// Close closes the database.
func (d *DuckDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	return d.db.Close()
}
