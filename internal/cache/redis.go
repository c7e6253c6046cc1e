package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func reportKey(dataset string) string {
	return "catalog:report:" + dataset
}

var _ ReportCache = (*RedisReportCache)(nil)

// RedisReportCache keeps the reports of a dataset in one hash that expires ttl after its last write.
type RedisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReportCache(addr, password string, db int, ttl time.Duration) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		Protocol: 2,
	})

	return &RedisReportCache{client: client, ttl: ttl}
}

func (r *RedisReportCache) SetReport(ctx context.Context, dataset string, kind ReportKind, report any) error {
	marshal, err := json.Marshal(report)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if err := p.HSet(ctx, reportKey(dataset), string(kind), marshal).Err(); err != nil {
			return err
		}

		if r.ttl > 0 {
			if err := p.Expire(ctx, reportKey(dataset), r.ttl).Err(); err != nil {
				return err
			}
		}

		return nil
	})

	return err
}

func (r *RedisReportCache) GetReport(ctx context.Context, dataset string, kind ReportKind) (json.RawMessage, error) {
	res := r.client.HGet(ctx, reportKey(dataset), string(kind))
	if res.Err() != nil {
		if errors.Is(res.Err(), redis.Nil) {
			return nil, ErrReportNotFound
		}
		return nil, res.Err()
	}

	buf, err := res.Bytes()
	if err != nil {
		return nil, err
	}

	return buf, nil
}

func (r *RedisReportCache) Reports(ctx context.Context, dataset string) (map[ReportKind]json.RawMessage, error) {
	res := r.client.HGetAll(ctx, reportKey(dataset))
	if res.Err() != nil {
		return nil, res.Err()
	}

	out := make(map[ReportKind]json.RawMessage, len(res.Val()))
	for kind, data := range res.Val() {
		out[ReportKind(kind)] = json.RawMessage(data)
	}
	return out, nil
}

func (r *RedisReportCache) Close() error {
	return r.client.Close()
}
