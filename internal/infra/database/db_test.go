package database

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolOptionsDefaults(t *testing.T) {
	assert.Equal(t, DefaultPoolOptions(), PoolOptions{}.withDefaults())

	got := PoolOptions{MaxOpenConns: 4, MaxIdleConns: 10, ConnMaxLifetime: time.Hour}.withDefaults()
	assert.Equal(t, 4, got.MaxOpenConns)
	assert.Equal(t, 4, got.MaxIdleConns, "idle connections never exceed the open limit")
	assert.Equal(t, time.Hour, got.ConnMaxLifetime)
	assert.Equal(t, time.Minute, got.ConnMaxIdleTime)
}

func TestApplyPool(t *testing.T) {
	// sql.Open does not dial, so no server is needed.
	db, err := sql.Open("postgres", "postgres://kkt@localhost:1/kkt?sslmode=disable")
	require.NoError(t, err)
	defer db.Close()

	applyPool(db, PoolOptions{MaxOpenConns: 7})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}
