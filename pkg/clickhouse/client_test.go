package clickhouse

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schema []string

func (s schema) Schema() []string { return s }

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host:        "ch",
		Port:        9000,
		Database:    "se3price",
		User:        "default",
		Password:    "p@ss",
		DialTimeout: 5 * time.Second,
		MaxExecTime: time.Minute,
	})
	assert.Equal(t, "clickhouse://default:p%40ss@ch:9000/default?dial_timeout=5s&max_execution_time=60", dsn)

	dsn = buildDSN(ClientConfig{Host: "ch", Port: 8123, UseHTTP: true})
	assert.Equal(t, "http://ch:8123/default", dsn)
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(context.Background())
	assert.Error(t, err)
}

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := &Client{db: db, database: "se3price"}
	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS `se3price`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE b").WillReturnError(assert.AnError)

	err = c.InitSchema(context.Background(), schema{"CREATE TABLE a"}, schema{"CREATE TABLE b", "ALTER TABLE b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 3")
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "se3price", c.Database())
}
