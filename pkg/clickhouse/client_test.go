package clickhouse

import (
	"net/url"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host:         "ch.local",
		Port:         9000,
		Database:     "coins",
		User:         "writer",
		Password:     "p@ss",
		DialTimeout:  5 * time.Second,
		MaxExecTime:  time.Minute,
		AsyncInsert:  true,
		WaitForAsync: true,
	})
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse %q: %v", dsn, err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch.local:9000" || u.Path != "/coins" {
		t.Fatalf("dsn = %s", dsn)
	}
	if pw, _ := u.User.Password(); pw != "p@ss" {
		t.Fatalf("password = %q", pw)
	}
	q := u.Query()
	if q.Get("dial_timeout") != "5s" || q.Get("max_execution_time") != "60" {
		t.Fatalf("query = %v", q)
	}
	if q.Get("async_insert") != "1" || q.Get("wait_for_async_insert") != "1" {
		t.Fatalf("query = %v", q)
	}
	if q.Has("write_timeout") {
		t.Fatal("write_timeout must stay client-side")
	}
}

func TestBuildDSNHTTP(t *testing.T) {
	u, _ := url.Parse(buildDSN(ClientConfig{Host: "h", Port: 8123, Database: "default", UseHTTP: true}))
	if u.Scheme != "http" || u.Port() != "8123" {
		t.Fatalf("dsn = %s", u)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without host")
	}
}
