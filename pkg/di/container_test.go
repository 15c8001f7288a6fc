package di

import (
	"context"
	"testing"

	"realtime-chat/backend/internal/feed"
	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/pkg/config"
	"realtime-chat/backend/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	return db
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Feed.Driver = "memory"
	cfg.Feed.Channel = "chat:test"
	cfg.Feed.BufferSize = 16
	cfg.Inference.BaseURL = "http://inference.test/api"
	cfg.Chat.RecentLimit = 50
	return cfg
}

func TestNewWiresMemoryFeed(t *testing.T) {
	c, err := New(openDB(t), testConfig(), logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &feed.Broker{}, c.Feed)
	assert.Nil(t, c.Redis)
	assert.ElementsMatch(t,
		[]models.Source{models.SourceTinyLlama, models.SourceBruvi, models.SourceHuman, models.SourceNull},
		c.Orchestrator.Sources())
	assert.Len(t, c.Breakers, 2)

	c.Health.RunChecks(context.Background())
	status := c.Health.GetStatus()
	require.Contains(t, status, "database")
	require.Contains(t, status, "responder.bruvi")
	require.Contains(t, status, "responder.tiny_llama_1b")
	assert.True(t, c.Health.IsSystemHealthy())
}

func TestStoreRoundTripThroughContainer(t *testing.T) {
	c, err := New(openDB(t), testConfig(), logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, err = c.Store.Insert(ctx, models.NewMessage{Text: "hello", Source: models.SourceCustomer})
	require.NoError(t, err)

	msgs, err := c.Store.FetchRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}

func TestNewWiresRedisFeed(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Feed.Driver = "redis"
	cfg.Redis.Addr = mr.Addr()

	c, err := New(openDB(t), cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &feed.RedisFeed{}, c.Feed)
	require.NotNil(t, c.Redis)

	c.Health.RunChecks(context.Background())
	assert.Equal(t, "up", string(c.Health.GetStatus()["feed"].Status))
}

func TestNewRejectsUnknownFeed(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Driver = "kafka"

	_, err := New(openDB(t), cfg, logger.Nop())
	assert.ErrorContains(t, err, "unknown feed driver")
}

func TestNewFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Feed.Driver = "redis"
	cfg.Redis.Addr = addr

	_, err := New(openDB(t), cfg, logger.Nop())
	assert.ErrorContains(t, err, "failed to connect to redis")
}
