package cache

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/IliaW/report-downloader/config"
	"github.com/IliaW/report-downloader/internal"
	"github.com/bradfitz/gomemcache/memcache"
)

// CachedClient remembers which records were already downloaded so
// repeated runs can skip them. Misses and cache errors both mean
// "download it again".
type CachedClient interface {
	IsDownloaded(string) (int, bool)
	MarkDownloaded(string, int)
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
	}
	slog.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return c
}

// IsDownloaded returns the status code stored for the record and whether
// a pdf from an earlier run exists.
func (mc *MemcachedClient) IsDownloaded(brnum string) (int, bool) {
	key := recordKey(brnum)
	item, err := mc.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			slog.Debug("record not in cache.", slog.String("key", key))
		} else {
			slog.Warn("failed to read from cache.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
		return 0, false
	}

	var statusCode int
	if err = json.Unmarshal(item.Value, &statusCode); err != nil {
		slog.Warn("unexpected cache value.", slog.String("key", key),
			slog.String("err", err.Error()))
		return 0, false
	}

	return statusCode, true
}

func (mc *MemcachedClient) MarkDownloaded(brnum string, statusCode int) {
	key := recordKey(brnum)
	if err := mc.set(key, statusCode, int32(mc.cfg.TtlForRecord.Seconds())); err != nil {
		slog.Error("failed to save record to cache.", slog.String("key", key),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("record saved to cache.", slog.String("key", key))
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) set(key string, value any, expiration int32) error {
	byteValue, err := json.Marshal(value)
	if err != nil {
		return err
	}
	item := &memcache.Item{
		Key:        key,
		Value:      byteValue,
		Expiration: expiration,
	}

	return mc.client.Set(item)
}

func recordKey(brnum string) string {
	return "dl-" + internal.HashKey(brnum)
}
