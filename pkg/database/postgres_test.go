package database

import (
	"testing"

	"ai-influencer/pkg/config"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db",
		DBPort:     "5433",
		DBUser:     "u",
		DBPassword: "p",
		DBName:     "influencer",
		DBSSLMode:  "disable",
	}

	assert.Equal(t, "host=db user=u password=p dbname=influencer port=5433 sslmode=disable", DSN(cfg))
}

func TestSupportsRowLocks(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.False(t, SupportsRowLocks(db))
}
