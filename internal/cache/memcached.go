package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/portwatch/container-scrape-worker/config"
	"github.com/portwatch/container-scrape-worker/internal/model"
)

// CachedClient keeps the S3 raw-text archive link for the most recent scrape
// of each (provider, container) so audit lookups don't need a database trip.
type CachedClient interface {
	SaveS3Link(provider model.Provider, containerNo string, linkToS3 string)
	GetS3Link(provider model.Provider, containerNo string) (string, bool)
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
	log    *slog.Logger
}

func NewMemcachedClient(cacheConfig *config.CacheConfig, log *slog.Logger) *MemcachedClient {
	log.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	servers := strings.Split(cacheConfig.Servers, ",")
	err := ss.SetServers(servers...)
	if err != nil {
		log.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
		log:    log,
	}
	c.log.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		log.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c.log.Info("connected to memcached!")

	return c
}

func (mc *MemcachedClient) SaveS3Link(provider model.Provider, containerNo string, linkToS3 string) {
	if linkToS3 == "" {
		mc.log.Warn("s3 link is empty. Skip saving to cache.")
		return
	}
	key := recordKey(provider, containerNo)
	if err := mc.set(key, linkToS3, int32((mc.cfg.TtlForScrape).Seconds())); err != nil {
		mc.log.Error("failed to save s3 link to cache.", slog.String("key", key),
			slog.String("err", err.Error()))
		return
	}
	mc.log.Debug("s3 link saved to cache.")
}

func (mc *MemcachedClient) GetS3Link(provider model.Provider, containerNo string) (string, bool) {
	key := recordKey(provider, containerNo)
	item, err := mc.client.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			mc.log.Warn("failed to read s3 link from cache.", slog.String("key", key),
				slog.String("err", err.Error()))
		}
		return "", false
	}
	var link string
	if err := json.Unmarshal(item.Value, &link); err != nil {
		mc.log.Warn("corrupted cache entry.", slog.String("key", key))
		return "", false
	}
	return link, true
}

func (mc *MemcachedClient) Close() {
	mc.log.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		mc.log.Error("failed to close memcached connection.", slog.String("err", err.Error()))
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

func recordKey(provider model.Provider, containerNo string) string {
	hash := sha256.New()
	hash.Write([]byte(fmt.Sprintf("%s:%s", provider.String(), containerNo)))
	return hex.EncodeToString(hash.Sum(nil)) + "-raw-text"
}
