package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each document as a hash, with its unique key as a
// plain string key and creation order kept in sorted sets. Writes run in
// WATCH/MULTI transactions so a concurrent writer fails with ErrConflict
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

const (
	fieldID        = "id"
	fieldETag      = "etag"
	fieldUnique    = "unique"
	fieldPartition = "partition"
	fieldData      = "data"
	fieldSeq       = "seq"
)

// NewRedisBackend wraps a connected client. All keys are placed under
// prefix
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisBackend) Create(
	ctx context.Context, table string, doc *Document,
) error {
	docKey := r.docKey(table, doc.ID)
	watch := []string{docKey}
	if doc.Unique != "" {
		watch = append(watch, r.uniqueKey(table, doc.Unique))
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, watch...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicate
		}
		seq, err := tx.Incr(ctx, r.seqKey()).Result()
		if err != nil {
			return err
		}
		doc.Seq = seq
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			r.write(ctx, p, table, doc)
			return nil
		})
		return err
	}, watch...)
	return mapRedisError(err)
}

func (r *RedisBackend) Read(
	ctx context.Context, table, id string,
) (*Document, error) {
	vals, err := r.client.HGetAll(ctx, r.docKey(table, id)).Result()
	if err != nil {
		return nil, err
	}
	return decodeHash(vals)
}

func (r *RedisBackend) Update(
	ctx context.Context, table string, doc *Document, etag string,
) error {
	docKey := r.docKey(table, doc.ID)
	watch := []string{docKey}
	if doc.Unique != "" {
		watch = append(watch, r.uniqueKey(table, doc.Unique))
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, docKey).Result()
		if err != nil {
			return err
		}
		cur, err := decodeHash(vals)
		if err != nil {
			return err
		}
		if cur.ETag != etag {
			return ErrConflict
		}
		if doc.Unique != cur.Unique && doc.Unique != "" {
			owner, err := tx.Get(ctx, r.uniqueKey(table, doc.Unique)).Result()
			if err == nil && owner != doc.ID {
				return ErrDuplicate
			}
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
		}
		doc.Seq = cur.Seq
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if cur.Unique != "" && cur.Unique != doc.Unique {
				p.Del(ctx, r.uniqueKey(table, cur.Unique))
			}
			if cur.Partition != doc.Partition && cur.Partition != "" {
				p.ZRem(ctx, r.partKey(table, cur.Partition), doc.ID)
			}
			r.write(ctx, p, table, doc)
			return nil
		})
		return err
	}, watch...)
	return mapRedisError(err)
}

func (r *RedisBackend) Delete(ctx context.Context, table, id string) error {
	docKey := r.docKey(table, id)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, docKey).Result()
		if err != nil {
			return err
		}
		cur, err := decodeHash(vals)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, docKey)
			if cur.Unique != "" {
				p.Del(ctx, r.uniqueKey(table, cur.Unique))
			}
			p.ZRem(ctx, r.allKey(table), id)
			if cur.Partition != "" {
				p.ZRem(ctx, r.partKey(table, cur.Partition), id)
			}
			return nil
		})
		return err
	}, docKey)
	return mapRedisError(err)
}

func (r *RedisBackend) FindUnique(
	ctx context.Context, table, key string,
) (*Document, error) {
	id, err := r.client.Get(ctx, r.uniqueKey(table, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.Read(ctx, table, id)
}

func (r *RedisBackend) Search(
	ctx context.Context, table string, q Query,
) ([]*Document, error) {
	idx := r.allKey(table)
	if q.Partition != "" {
		idx = r.partKey(table, q.Partition)
	}
	ids, err := r.client.ZRange(ctx, idx, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, r.docKey(table, id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	docs := make([]*Document, 0, len(ids))
	for _, cmd := range cmds {
		doc, err := decodeHash(cmd.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return q.Page(docs), nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) write(
	ctx context.Context, p redis.Pipeliner, table string, doc *Document,
) {
	p.HSet(ctx, r.docKey(table, doc.ID), map[string]any{
		fieldID:        doc.ID,
		fieldETag:      doc.ETag,
		fieldUnique:    doc.Unique,
		fieldPartition: doc.Partition,
		fieldData:      doc.Data,
		fieldSeq:       doc.Seq,
	})
	if doc.Unique != "" {
		p.Set(ctx, r.uniqueKey(table, doc.Unique), doc.ID, 0)
	}
	member := redis.Z{Score: float64(doc.Seq), Member: doc.ID}
	p.ZAdd(ctx, r.allKey(table), member)
	if doc.Partition != "" {
		p.ZAdd(ctx, r.partKey(table, doc.Partition), member)
	}
}

func (r *RedisBackend) docKey(table, id string) string {
	return r.prefix + ":" + table + ":doc:" + id
}

func (r *RedisBackend) uniqueKey(table, key string) string {
	return r.prefix + ":" + table + ":unique:" + key
}

func (r *RedisBackend) allKey(table string) string {
	return r.prefix + ":" + table + ":all"
}

func (r *RedisBackend) partKey(table, part string) string {
	return r.prefix + ":" + table + ":part:" + part
}

func (r *RedisBackend) seqKey() string {
	return r.prefix + ":seq"
}

func decodeHash(vals map[string]string) (*Document, error) {
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	seq, err := strconv.ParseInt(vals[fieldSeq], 10, 64)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID:        vals[fieldID],
		ETag:      vals[fieldETag],
		Unique:    vals[fieldUnique],
		Partition: vals[fieldPartition],
		Data:      []byte(vals[fieldData]),
		Seq:       seq,
	}, nil
}

func mapRedisError(err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}
