package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"reflect"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/hatlonely/gox/kv/serializer"
	"github.com/hatlonely/gox/ref"
	"github.com/pkg/errors"
)

type PebbleStoreOptions struct {
	// DBPath 数据库目录，不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// 文档序列化选项，默认 msgpack
	ValSerializer *ref.TypeOptions `cfg:"valSerializer"`

	// 指定是否在写入时同步到磁盘
	SetWithoutSync bool `cfg:"setWithoutSync"`

	// DisableWAL 禁用预写日志，禁止崩溃恢复但提高写入性能
	DisableWAL bool `cfg:"disableWAL"`
}

// PebbleStore 基于 pebble 的持久化存储后端
//
// 键空间布局：
//   - d/<文档标识> -> 序列化文档
//   - o/<文档标识> -> 表名
//   - t/<表名>     -> 序列化索引定义
//   - m/creation   -> 创建时间水位
//   - x/<表名>/<索引名>/<索引条目键> -> 文档标识
type PebbleStore struct {
	db            *pebble.DB
	valSerializer serializer.Serializer[Document, []byte]
	writeOpts     *pebble.WriteOptions

	mu               sync.Mutex
	lastCreationTime int64
}

var pebbleMetaCreationKey = []byte("m/creation")

func NewPebbleStoreWithOptions(options *PebbleStoreOptions) (*PebbleStore, error) {
	ref.RegisterT[*serializer.JSONSerializer[Document]](serializer.NewJSONSerializer[Document])
	ref.RegisterT[*serializer.MsgPackSerializer[Document]](serializer.NewMsgPackSerializer[Document])

	valSerializerOptions := options.ValSerializer
	if valSerializerOptions == nil {
		valSerializerOptions = &ref.TypeOptions{
			Namespace: "github.com/hatlonely/gox/kv/serializer",
			Type:      "MsgPackSerializer[" + reflect.TypeOf(Document{}).String() + "]",
		}
	}
	valSerializerInterface, err := ref.NewWithOptions(valSerializerOptions)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewWithOptions failed")
	}
	valSerializer, ok := valSerializerInterface.(serializer.Serializer[Document, []byte])
	if !ok {
		return nil, errors.New("valSerializer is not a Serializer[Document, []byte]")
	}

	db, err := pebble.Open(options.DBPath, &pebble.Options{
		DisableWAL: options.DisableWAL,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "pebble.Open failed")
	}

	writeOpts := pebble.Sync
	if options.SetWithoutSync {
		writeOpts = pebble.NoSync
	}

	s := &PebbleStore{db: db, valSerializer: valSerializer, writeOpts: writeOpts}
	if raw, closer, err := db.Get(pebbleMetaCreationKey); err == nil {
		if len(raw) == 8 {
			s.lastCreationTime = int64(binary.BigEndian.Uint64(raw))
		}
		_ = closer.Close()
	}
	return s, nil
}

func pebbleDocKey(id string) []byte {
	return []byte("d/" + id)
}

func pebbleOwnerKey(id string) []byte {
	return []byte("o/" + id)
}

func pebbleTableKey(table string) []byte {
	return []byte("t/" + table)
}

func pebbleIndexPrefix(table string, index string) []byte {
	return []byte("x/" + table + "/" + index + "/")
}

func (s *PebbleStore) DefineTable(table string, indexes []Index) error {
	indexes = withCreationTimeIndex(indexes)

	if _, err := s.get(pebbleTableKey(table)); err == nil {
		// 重新打开已有库时允许同名表重复声明
		return nil
	}

	buf, err := encodeIndexes(indexes)
	if err != nil {
		return err
	}
	return errors.WithMessage(s.db.Set(pebbleTableKey(table), buf, s.writeOpts), "pebble.Set failed")
}

func (s *PebbleStore) Get(ctx context.Context, id string) (Document, error) {
	raw, err := s.get(pebbleDocKey(id))
	if err != nil {
		return nil, err
	}
	return s.valSerializer.Deserialize(raw)
}

func (s *PebbleStore) Insert(ctx context.Context, table string, doc Document) (string, error) {
	indexes, err := s.tableIndexes(table)
	if err != nil {
		return "", err
	}

	id := newDocumentID()
	stored := cloneDocument(doc)
	stored[FieldID] = id
	stored[FieldCreationTime] = s.nextCreationTime()

	raw, err := s.valSerializer.Serialize(stored)
	if err != nil {
		return "", err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	_ = batch.Set(pebbleDocKey(id), raw, nil)
	_ = batch.Set(pebbleOwnerKey(id), []byte(table), nil)
	for _, index := range indexes {
		key, err := entryKey(index, stored, id)
		if err != nil {
			return "", errors.WithMessagef(err, "index [%s]", index.Name)
		}
		_ = batch.Set(append(pebbleIndexPrefix(table, index.Name), key...), []byte(id), nil)
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(stored[FieldCreationTime].(int64)))
	_ = batch.Set(pebbleMetaCreationKey, tmp[:], nil)

	if err := s.db.Apply(batch, s.writeOpts); err != nil {
		return "", errors.WithMessage(err, "pebble.Apply failed")
	}
	return id, nil
}

func (s *PebbleStore) Patch(ctx context.Context, id string, patch map[string]any) error {
	table, old, err := s.loadOwned(id)
	if err != nil {
		return err
	}
	indexes, err := s.tableIndexes(table)
	if err != nil {
		return err
	}

	updated, err := applyPatch(old, patch)
	if err != nil {
		return err
	}
	raw, err := s.valSerializer.Serialize(updated)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	_ = batch.Set(pebbleDocKey(id), raw, nil)
	for _, index := range indexes {
		oldKey, err := entryKey(index, old, id)
		if err != nil {
			return errors.WithMessagef(err, "index [%s]", index.Name)
		}
		newKey, err := entryKey(index, updated, id)
		if err != nil {
			return errors.WithMessagef(err, "index [%s]", index.Name)
		}
		if bytes.Equal(oldKey, newKey) {
			continue
		}
		_ = batch.Delete(append(pebbleIndexPrefix(table, index.Name), oldKey...), nil)
		_ = batch.Set(append(pebbleIndexPrefix(table, index.Name), newKey...), []byte(id), nil)
	}

	return errors.WithMessage(s.db.Apply(batch, s.writeOpts), "pebble.Apply failed")
}

func (s *PebbleStore) Delete(ctx context.Context, id string) error {
	table, doc, err := s.loadOwned(id)
	if err != nil {
		return err
	}
	indexes, err := s.tableIndexes(table)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, index := range indexes {
		key, err := entryKey(index, doc, id)
		if err != nil {
			return errors.WithMessagef(err, "index [%s]", index.Name)
		}
		_ = batch.Delete(append(pebbleIndexPrefix(table, index.Name), key...), nil)
	}
	_ = batch.Delete(pebbleDocKey(id), nil)
	_ = batch.Delete(pebbleOwnerKey(id), nil)

	return errors.WithMessage(s.db.Apply(batch, s.writeOpts), "pebble.Apply failed")
}

func (s *PebbleStore) QueryIndex(ctx context.Context, query *IndexQuery) (*Page, error) {
	if _, err := s.get(pebbleTableKey(query.Table)); err != nil {
		return nil, errors.WithMessagef(ErrTableNotFound, "table [%s]", query.Table)
	}

	lower, upper, err := indexScanBounds(query)
	if err != nil {
		return nil, err
	}

	prefix := pebbleIndexPrefix(query.Table, query.Index)
	lowerBound := append(cloneBytes(prefix), lower...)
	var upperBound []byte
	if upper == nil {
		upperBound = PrefixSuccessor(prefix)
	} else {
		upperBound = append(cloneBytes(prefix), upper...)
	}

	var cursorKey []byte
	if query.Cursor != "" {
		entry, err := decodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}
		cursorKey = append(cloneBytes(prefix), entry...)
		if query.Order == OrderDesc {
			if bytes.Compare(cursorKey, upperBound) < 0 {
				upperBound = cursorKey
			}
		} else {
			next := append(cloneBytes(cursorKey), 0x00)
			if bytes.Compare(next, lowerBound) > 0 {
				lowerBound = next
			}
		}
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lowerBound,
		UpperBound: upperBound,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "pebble.NewIter failed")
	}
	defer iter.Close()

	page := &Page{Cursor: query.Cursor, IsDone: true}
	advance := func(valid bool) bool {
		if !valid {
			return false
		}
		if query.Limit > 0 && len(page.Docs) >= query.Limit {
			page.IsDone = false
			return false
		}
		return true
	}
	emit := func() error {
		id := string(iter.Value())
		raw, err := s.get(pebbleDocKey(id))
		if err != nil {
			return err
		}
		doc, err := s.valSerializer.Deserialize(raw)
		if err != nil {
			return err
		}
		page.Docs = append(page.Docs, doc)
		page.Cursor = encodeCursor(iter.Key()[len(prefix):])
		return nil
	}

	if query.Order == OrderDesc {
		for valid := iter.Last(); advance(valid); valid = iter.Prev() {
			if err := emit(); err != nil {
				return nil, err
			}
		}
	} else {
		for valid := iter.First(); advance(valid); valid = iter.Next() {
			if err := emit(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Error(); err != nil {
		return nil, errors.WithMessage(err, "pebble iterator failed")
	}
	return page, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) get(key []byte) ([]byte, error) {
	raw, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, errors.WithMessage(err, "pebble.Get failed")
	}
	out := cloneBytes(raw)
	_ = closer.Close()
	return out, nil
}

func (s *PebbleStore) loadOwned(id string) (string, Document, error) {
	table, err := s.get(pebbleOwnerKey(id))
	if err != nil {
		return "", nil, err
	}
	raw, err := s.get(pebbleDocKey(id))
	if err != nil {
		return "", nil, err
	}
	doc, err := s.valSerializer.Deserialize(raw)
	if err != nil {
		return "", nil, err
	}
	return string(table), doc, nil
}

func (s *PebbleStore) tableIndexes(table string) ([]Index, error) {
	raw, err := s.get(pebbleTableKey(table))
	if err != nil {
		return nil, errors.WithMessagef(ErrTableNotFound, "table [%s]", table)
	}
	return decodeIndexes(raw)
}

func (s *PebbleStore) nextCreationTime() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= s.lastCreationTime {
		now = s.lastCreationTime + 1
	}
	s.lastCreationTime = now
	return now
}
