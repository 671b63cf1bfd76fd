package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"CoinFlow/internal/codec"
	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/domain/repository"
	pkgch "CoinFlow/pkg/clickhouse"
	applogger "CoinFlow/pkg/logger"
)

const backendClickHouse = "clickhouse"

// columnTypes follows codec.Columns.
var columnTypes = []string{
	"LowCardinality(String)",
	"Float64",
	"Float64",
	"Float64",
	"Float64",
	"Float64",
	"Float64",
	"Int64",
	"Float64",
	"Float64",
	"DateTime64(6, 'UTC')",
	"DateTime64(6, 'UTC')",
	"Float64",
	"Float64",
	"String",
}

// ClickHouseSink appends predicted records to a MergeTree table.
type ClickHouseSink struct {
	ch    *pkgch.Client
	table string
	l     *applogger.Logger
}

func NewClickHouseSink(ch *pkgch.Client, table string) *ClickHouseSink {
	return &ClickHouseSink{ch: ch, table: table, l: applogger.Nop()}
}

func (s *ClickHouseSink) SetLogger(l *applogger.Logger) { s.l = l }

// Init creates the table when it does not exist yet.
func (s *ClickHouseSink) Init(ctx context.Context) error {
	if err := s.ch.InitSchema(ctx, []string{createTableSQL(s.table)}); err != nil {
		return &models.SinkWriteError{Backend: backendClickHouse, Err: err}
	}
	s.l.Info("clickhouse sink ready", applogger.String("table", s.table))
	return nil
}

func (s *ClickHouseSink) Append(ctx context.Context, r *models.PredictedRecord) error {
	return s.AppendBatch(ctx, []*models.PredictedRecord{r})
}

func (s *ClickHouseSink) AppendBatch(ctx context.Context, rs []*models.PredictedRecord) error {
	rows := make([][]interface{}, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			rows = append(rows, codec.Row(r))
		}
	}
	start := time.Now()
	if err := s.ch.InsertBatch(ctx, insertSQL(s.table), rows); err != nil {
		return &models.SinkWriteError{Backend: backendClickHouse, Err: err}
	}
	s.l.Debug("clickhouse rows appended",
		applogger.Int("rows", len(rows)),
		applogger.Duration("took_ms", time.Since(start)),
	)
	return nil
}

func (s *ClickHouseSink) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

// Close leaves the shared client open; its owner closes it.
func (s *ClickHouseSink) Close() error {
	return nil
}

func quoted(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = "`" + c + "`"
	}
	return out
}

func createTableSQL(table string) string {
	cols := quoted(codec.Columns)
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c + " " + columnTypes[i]
	}
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree ORDER BY (`coin_name`, `last_updated`)",
		table, strings.Join(defs, ", "),
	)
}

func insertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(quoted(codec.Columns), ", "))
}

var _ repository.Sink = (*ClickHouseSink)(nil)
