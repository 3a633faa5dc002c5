package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/veridoc/stmtguard-go/internal/telemetry"
)

// TracedDB wraps the connection pool with one span per statement. It
// satisfies DatabasePool, so repositories work identically against the plain
// pool and the traced one.
type TracedDB struct {
	Pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ DatabasePool = (*TracedDB)(nil)

// NewTracedDB creates a traced wrapper around pool.
func NewTracedDB(pool *pgxpool.Pool) *TracedDB {
	return &TracedDB{
		Pool:   pool,
		tracer: telemetry.GetDatabaseTracer(),
	}
}

func (db *TracedDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := telemetry.StartSpan(ctx, db.tracer, "db.query")
	defer span.End()
	annotateStatement(span, sql)

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.SetSpanStatus(span, codes.Error, err.Error())
	}
	return rows, err
}

// QueryRow cannot observe the scan outcome; the span covers only statement
// dispatch.
func (db *TracedDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := telemetry.StartSpan(ctx, db.tracer, "db.query_row")
	defer span.End()
	annotateStatement(span, sql)

	return db.Pool.QueryRow(ctx, sql, args...)
}

func (db *TracedDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := telemetry.StartSpan(ctx, db.tracer, "db.exec")
	defer span.End()
	annotateStatement(span, sql)

	tag, err := db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.SetSpanStatus(span, codes.Error, err.Error())
	} else {
		telemetry.SetSpanAttributes(span, telemetry.Int64Attribute("db.rows_affected", tag.RowsAffected()))
	}
	return tag, err
}

func (db *TracedDB) Ping(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, db.tracer, "db.ping")
	defer span.End()

	err := db.Pool.Ping(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.SetSpanStatus(span, codes.Error, err.Error())
	}
	return err
}

func (db *TracedDB) Close() {
	db.Pool.Close()
}

func annotateStatement(span trace.Span, sql string) {
	telemetry.SetSpanAttributes(span,
		telemetry.StringAttribute("db.system", "postgresql"),
		telemetry.StringAttribute("db.statement", sql),
	)
}
