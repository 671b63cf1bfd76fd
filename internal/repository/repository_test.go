package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"CoinFlow/internal/domain/models"
	"CoinFlow/pkg/cache"
)

func predicted() *models.PredictedRecord {
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	return &models.PredictedRecord{
		EnrichedRecord: models.EnrichedRecord{
			Observation: models.Observation{
				Key:        "bitcoin",
				Price:      97,
				HighPrice:  99,
				LowPrice:   95,
				Rank:       1,
				ObservedAt: at,
				IngestedAt: at.Add(time.Second),
			},
			RollingAverage: 100,
		},
		PredictedPrice: 101.5,
	}
}

func TestClickHouseStatements(t *testing.T) {
	Convey("Given the coin_prices table", t, func() {
		Convey("The create statement quotes every column and orders by key and time", func() {
			q := createTableSQL("coin_prices")
			So(q, ShouldStartWith, "CREATE TABLE IF NOT EXISTS coin_prices (")
			So(q, ShouldContainSubstring, "`24h_high_usd` Float64")
			So(q, ShouldContainSubstring, "`market_rank` Int64")
			So(q, ShouldContainSubstring, "`last_updated` DateTime64(6, 'UTC')")
			So(q, ShouldContainSubstring, "`ds` String")
			So(q, ShouldEndWith, "ORDER BY (`coin_name`, `last_updated`)")
		})

		Convey("The insert statement lists the fifteen columns", func() {
			q := insertSQL("coin_prices")
			So(q, ShouldStartWith, "INSERT INTO coin_prices (`coin_name`, `current_price_usd`")
			So(strings.Count(q, "`")/2, ShouldEqual, 15)
		})
	})
}

func TestMySQLRow(t *testing.T) {
	Convey("Given a predicted record", t, func() {
		r := predicted()

		Convey("It maps onto a price row", func() {
			row := priceRowFrom(r)
			So(row.CoinName, ShouldEqual, "bitcoin")
			So(row.CurrentPrice, ShouldEqual, 97.0)
			So(row.MarketRank, ShouldEqual, int64(1))
			So(row.RollingAverage, ShouldEqual, 100.0)
			So(row.PredictedPrice, ShouldEqual, 101.5)
			So(row.DS, ShouldEqual, "2025-01-01T10:00:00Z")
		})

		Convey("The insert targets the configured table with the column names", func() {
			db, err := gorm.Open(mysql.New(mysql.Config{
				DSN:                       "user:pass@tcp(127.0.0.1:3306)/coinflow?parseTime=true",
				SkipInitializeWithVersion: true,
			}), &gorm.Config{
				DryRun:               true,
				DisableAutomaticPing: true,
				Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
			})
			So(err, ShouldBeNil)

			row := priceRowFrom(r)
			stmt := db.Table("coin_prices").Create(&row).Statement
			sql := stmt.SQL.String()
			So(sql, ShouldStartWith, "INSERT INTO `coin_prices`")
			So(sql, ShouldContainSubstring, "`24h_high_usd`")
			So(sql, ShouldContainSubstring, "`predicted_price`")
		})
	})
}

func TestRedisStateStore(t *testing.T) {
	Convey("Given a state store over an in-memory cache", t, func() {
		ctx := context.Background()
		store := NewRedisStateStore(cache.NewMemoryCache(), time.Hour)
		pending := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

		snaps := []models.KeySnapshot{
			{Key: "ethereum", Prices: []float64{1, 2}, Count: 2},
			{Key: "bitcoin", Prices: []float64{10, 20, 30}, Count: 3, PendingFire: &pending},
		}

		Convey("Saved snapshots load back sorted by key", func() {
			So(store.Save(ctx, snaps), ShouldBeNil)

			got, err := store.Load(ctx)
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].Key, ShouldEqual, "bitcoin")
			So(got[0].Prices, ShouldResemble, []float64{10, 20, 30})
			So(got[0].PendingFire.Equal(pending), ShouldBeTrue)
			So(got[1].Key, ShouldEqual, "ethereum")
			So(got[1].PendingFire, ShouldBeNil)
		})

		Convey("Saving while the lock is held elsewhere fails", func() {
			c := cache.NewMemoryCache()
			ok, err := c.TryLock(ctx, checkpointLock, time.Minute)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			err = NewRedisStateStore(c, time.Hour).Save(ctx, snaps)
			So(err, ShouldEqual, ErrCheckpointBusy)
		})

		Convey("Clear removes every snapshot", func() {
			So(store.Save(ctx, snaps), ShouldBeNil)
			So(store.Clear(ctx), ShouldBeNil)

			got, err := store.Load(ctx)
			So(err, ShouldBeNil)
			So(got, ShouldBeEmpty)
		})

		Convey("An empty save is a no-op", func() {
			So(store.Save(ctx, nil), ShouldBeNil)
		})
	})
}
