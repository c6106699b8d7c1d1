// cache.go — кэш прочитанных заявок.
// Заявки после записи не меняются, поэтому кэш не требует инвалидации,
// TTL только ограничивает время жизни записей в памяти.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/guidehub/guide-intake/internal/domain/model"
)

// Prometheus метрики кэша
var (
	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gi_record_cache_requests_total",
		Help: "Обращения к кэшу заявок",
	}, []string{"result"})

	cacheHits   = cacheRequestsTotal.WithLabelValues("hit")
	cacheMisses = cacheRequestsTotal.WithLabelValues("miss")
)

// RecordCache — LRU-кэш заявок по id с ограничением времени жизни.
type RecordCache struct {
	lru *expirable.LRU[string, *model.ApplicationRecord]
}

// NewRecordCache создаёт кэш на size записей с временем жизни ttl.
func NewRecordCache(size int, ttl time.Duration) *RecordCache {
	return &RecordCache{
		lru: expirable.NewLRU[string, *model.ApplicationRecord](size, nil, ttl),
	}
}

// Get возвращает заявку из кэша. Запись разделяется между запросами
// и не должна изменяться вызывающим кодом.
func (c *RecordCache) Get(id string) (*model.ApplicationRecord, bool) {
	rec, ok := c.lru.Get(id)
	if ok {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
	}
	return rec, ok
}

// Add помещает заявку в кэш.
func (c *RecordCache) Add(rec *model.ApplicationRecord) {
	c.lru.Add(rec.ID, rec)
}

// Len возвращает количество записей в кэше.
func (c *RecordCache) Len() int {
	return c.lru.Len()
}
