package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"CoinFlow/internal/domain/models"
	"CoinFlow/internal/domain/repository"
)

const backendMySQL = "mysql"

// PriceRow is the MySQL row of a predicted record.
type PriceRow struct {
	ID                uint      `gorm:"primaryKey"`
	CoinName          string    `gorm:"column:coin_name;size:64;index:idx_coin_time"`
	CurrentPrice      float64   `gorm:"column:current_price_usd"`
	High24h           float64   `gorm:"column:24h_high_usd"`
	Low24h            float64   `gorm:"column:24h_low_usd"`
	Volume24h         float64   `gorm:"column:24h_trade_volume_usd"`
	MarketCap         float64   `gorm:"column:market_cap_usd"`
	ChangePct24h      float64   `gorm:"column:market_change_percentage_24h"`
	MarketRank        int64     `gorm:"column:market_rank"`
	CirculatingSupply float64   `gorm:"column:circulating_supply"`
	TotalSupply       float64   `gorm:"column:total_supply"`
	LastUpdated       time.Time `gorm:"column:last_updated;precision:6;index:idx_coin_time"`
	RetrievalTime     time.Time `gorm:"column:retrieval_time;precision:6"`
	RollingAverage    float64   `gorm:"column:rolling_average"`
	PredictedPrice    float64   `gorm:"column:predicted_price"`
	DS                string    `gorm:"column:ds;size:40"`
}

func priceRowFrom(r *models.PredictedRecord) PriceRow {
	return PriceRow{
		CoinName:          r.Key,
		CurrentPrice:      r.Price,
		High24h:           r.HighPrice,
		Low24h:            r.LowPrice,
		Volume24h:         r.Volume,
		MarketCap:         r.MarketCap,
		ChangePct24h:      r.ChangePct24h,
		MarketRank:        int64(r.Rank),
		CirculatingSupply: r.CirculatingSupply,
		TotalSupply:       r.TotalSupply,
		LastUpdated:       r.ObservedAt.UTC(),
		RetrievalTime:     r.IngestedAt.UTC(),
		RollingAverage:    r.RollingAverage,
		PredictedPrice:    r.PredictedPrice,
		DS:                r.DS(),
	}
}

// MySQLSink appends predicted records through gorm.
type MySQLSink struct {
	db    *gorm.DB
	table string
}

// OpenMySQL opens a pooled gorm connection.
func OpenMySQL(dsn string, maxOpen, maxIdle int) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("mysql pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func NewMySQLSink(db *gorm.DB, table string) *MySQLSink {
	return &MySQLSink{db: db, table: table}
}

// Init creates or extends the table.
func (s *MySQLSink) Init(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.table).AutoMigrate(&PriceRow{}); err != nil {
		return &models.SinkWriteError{Backend: backendMySQL, Err: err}
	}
	return nil
}

func (s *MySQLSink) Append(ctx context.Context, r *models.PredictedRecord) error {
	row := priceRowFrom(r)
	if err := s.db.WithContext(ctx).Table(s.table).Create(&row).Error; err != nil {
		return &models.SinkWriteError{Backend: backendMySQL, Err: err}
	}
	return nil
}

func (s *MySQLSink) AppendBatch(ctx context.Context, rs []*models.PredictedRecord) error {
	rows := make([]PriceRow, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			rows = append(rows, priceRowFrom(r))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Table(s.table).CreateInBatches(rows, 500).Error; err != nil {
		return &models.SinkWriteError{Backend: backendMySQL, Err: err}
	}
	return nil
}

func (s *MySQLSink) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *MySQLSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ repository.Sink = (*MySQLSink)(nil)
