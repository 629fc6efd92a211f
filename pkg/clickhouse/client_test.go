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
		Database:     "rewind",
		User:         "default",
		Password:     "p@ss:word",
		DialTimeout:  5 * time.Second,
		MaxExecTime:  90 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	})

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse %q: %v", dsn, err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch.local:9000" || u.Path != "/rewind" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if pw, _ := u.User.Password(); pw != "p@ss:word" {
		t.Fatalf("password not round-tripped: %q", pw)
	}
	q := u.Query()
	if q.Get("dial_timeout") != "5s" || q.Get("max_execution_time") != "90" || q.Get("wait_for_async_insert") != "1" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Has("read_timeout") {
		t.Fatal("read_timeout should be omitted when unset")
	}
}

func TestBuildDSNHTTP(t *testing.T) {
	dsn := buildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "rewind", UseHTTP: true})
	if dsn != "http://ch:8123/rewind" {
		t.Fatalf("dsn = %q", dsn)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(WithPort(9000)); err == nil {
		t.Fatal("expected error without host")
	}
}
