package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"reflect"
	"time"

	"github.com/hatlonely/gox/kv/serializer"
	"github.com/hatlonely/gox/ref"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type BoltDBStoreOptions struct {
	// DBPath 数据库文件路径，文件不存在时自动创建
	DBPath string `cfg:"dbPath" validate:"required"`

	// 文档序列化选项，默认 msgpack
	ValSerializer *ref.TypeOptions `cfg:"valSerializer"`

	// Timeout 获取文件锁的等待时间，为零时无限期等待
	Timeout time.Duration `cfg:"timeout"`

	// NoSync 写入时不同步到磁盘，提高写入性能但崩溃时可能丢数据
	NoSync bool `cfg:"noSync"`

	// 以只读模式打开数据库
	ReadOnly bool `cfg:"readOnly"`
}

// BoltDBStore 基于 bbolt 的持久化存储后端
//
// 键空间布局：
//   - doc 桶：文档标识 -> 序列化文档
//   - owner 桶：文档标识 -> 表名
//   - table 桶：表名 -> 序列化索引定义
//   - meta 桶：创建时间水位
//   - idx/<表名>/<索引名> 桶：保序编码的索引条目键 -> 文档标识
type BoltDBStore struct {
	db            *bolt.DB
	valSerializer serializer.Serializer[Document, []byte]
}

var (
	bucketDoc   = []byte("doc")
	bucketOwner = []byte("owner")
	bucketTable = []byte("table")
	bucketMeta  = []byte("meta")

	metaKeyCreationTime = []byte("lastCreationTime")
)

func NewBoltDBStoreWithOptions(options *BoltDBStoreOptions) (*BoltDBStore, error) {
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

	db, err := bolt.Open(options.DBPath, 0600, &bolt.Options{
		Timeout:  options.Timeout,
		ReadOnly: options.ReadOnly,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "bolt.Open failed")
	}
	db.NoSync = options.NoSync

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDoc, bucketOwner, bucketTable, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "create system buckets failed")
	}

	return &BoltDBStore{db: db, valSerializer: valSerializer}, nil
}

func indexBucketName(table string, index string) []byte {
	return []byte("idx/" + table + "/" + index)
}

func (s *BoltDBStore) DefineTable(table string, indexes []Index) error {
	indexes = withCreationTimeIndex(indexes)

	return s.db.Update(func(tx *bolt.Tx) error {
		tables := tx.Bucket(bucketTable)
		if tables.Get([]byte(table)) != nil {
			// 重新打开已有库时允许同名表重复声明
			return nil
		}
		buf, err := encodeIndexes(indexes)
		if err != nil {
			return err
		}
		if err := tables.Put([]byte(table), buf); err != nil {
			return err
		}
		for _, index := range indexes {
			if _, err := tx.CreateBucketIfNotExists(indexBucketName(table, index.Name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltDBStore) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDoc).Get([]byte(id))
		if raw == nil {
			return ErrDocumentNotFound
		}
		var err error
		doc, err = s.valSerializer.Deserialize(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *BoltDBStore) Insert(ctx context.Context, table string, doc Document) (string, error) {
	id := newDocumentID()

	err := s.db.Update(func(tx *bolt.Tx) error {
		indexes, err := s.tableIndexes(tx, table)
		if err != nil {
			return err
		}

		stored := cloneDocument(doc)
		stored[FieldID] = id
		stored[FieldCreationTime] = s.nextCreationTime(tx)

		raw, err := s.valSerializer.Serialize(stored)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDoc).Put([]byte(id), raw); err != nil {
			return err
		}
		if err := tx.Bucket(bucketOwner).Put([]byte(id), []byte(table)); err != nil {
			return err
		}

		for _, index := range indexes {
			key, err := entryKey(index, stored, id)
			if err != nil {
				return errors.WithMessagef(err, "index [%s]", index.Name)
			}
			if err := tx.Bucket(indexBucketName(table, index.Name)).Put(key, []byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *BoltDBStore) Patch(ctx context.Context, id string, patch map[string]any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		table, old, err := s.loadOwned(tx, id)
		if err != nil {
			return err
		}
		indexes, err := s.tableIndexes(tx, table)
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
		if err := tx.Bucket(bucketDoc).Put([]byte(id), raw); err != nil {
			return err
		}

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
			bucket := tx.Bucket(indexBucketName(table, index.Name))
			if err := bucket.Delete(oldKey); err != nil {
				return err
			}
			if err := bucket.Put(newKey, []byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltDBStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		table, doc, err := s.loadOwned(tx, id)
		if err != nil {
			return err
		}
		indexes, err := s.tableIndexes(tx, table)
		if err != nil {
			return err
		}

		for _, index := range indexes {
			key, err := entryKey(index, doc, id)
			if err != nil {
				return errors.WithMessagef(err, "index [%s]", index.Name)
			}
			if err := tx.Bucket(indexBucketName(table, index.Name)).Delete(key); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketDoc).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketOwner).Delete([]byte(id))
	})
}

func (s *BoltDBStore) QueryIndex(ctx context.Context, query *IndexQuery) (*Page, error) {
	lower, upper, err := indexScanBounds(query)
	if err != nil {
		return nil, err
	}

	var cursorKey []byte
	if query.Cursor != "" {
		cursorKey, err = decodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}
	}

	page := &Page{Cursor: query.Cursor, IsDone: true}
	err = s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketTable).Get([]byte(query.Table)) == nil {
			return errors.WithMessagef(ErrTableNotFound, "table [%s]", query.Table)
		}
		bucket := tx.Bucket(indexBucketName(query.Table, query.Index))
		if bucket == nil {
			return errors.WithMessagef(ErrIndexNotFound, "table [%s] index [%s]", query.Table, query.Index)
		}

		docs := tx.Bucket(bucketDoc)
		emit := func(key []byte, id []byte) (bool, error) {
			if query.Limit > 0 && len(page.Docs) >= query.Limit {
				page.IsDone = false
				return false, nil
			}
			raw := docs.Get(id)
			if raw == nil {
				return false, errors.WithMessagef(ErrDocumentNotFound, "id [%s]", id)
			}
			doc, err := s.valSerializer.Deserialize(raw)
			if err != nil {
				return false, err
			}
			page.Docs = append(page.Docs, doc)
			page.Cursor = encodeCursor(key)
			return true, nil
		}

		c := bucket.Cursor()
		if query.Order == OrderDesc {
			k, v := descSeekStart(c, upper, cursorKey)
			for ; k != nil && bytes.Compare(k, lower) >= 0; k, v = c.Prev() {
				ok, err := emit(k, v)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
			}
			return nil
		}

		start := lower
		if cursorKey != nil && bytes.Compare(cursorKey, start) >= 0 {
			// 游标指向上一页末尾条目，从其后继开始
			start = append(cloneBytes(cursorKey), 0x00)
		}
		for k, v := c.Seek(start); k != nil && (upper == nil || bytes.Compare(k, upper) < 0); k, v = c.Next() {
			ok, err := emit(k, v)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// descSeekStart 定位倒序扫描的起始条目（严格小于上界和游标）
func descSeekStart(c *bolt.Cursor, upper []byte, cursorKey []byte) ([]byte, []byte) {
	bound := upper
	if cursorKey != nil && (bound == nil || bytes.Compare(cursorKey, bound) < 0) {
		bound = cursorKey
	}
	if bound == nil {
		return c.Last()
	}
	k, _ := c.Seek(bound)
	if k == nil {
		return c.Last()
	}
	return c.Prev()
}

func (s *BoltDBStore) Close() error {
	return s.db.Close()
}

func (s *BoltDBStore) loadOwned(tx *bolt.Tx, id string) (string, Document, error) {
	table := tx.Bucket(bucketOwner).Get([]byte(id))
	if table == nil {
		return "", nil, ErrDocumentNotFound
	}
	raw := tx.Bucket(bucketDoc).Get([]byte(id))
	if raw == nil {
		return "", nil, ErrDocumentNotFound
	}
	doc, err := s.valSerializer.Deserialize(raw)
	if err != nil {
		return "", nil, err
	}
	return string(table), doc, nil
}

func (s *BoltDBStore) tableIndexes(tx *bolt.Tx, table string) ([]Index, error) {
	raw := tx.Bucket(bucketTable).Get([]byte(table))
	if raw == nil {
		return nil, errors.WithMessagef(ErrTableNotFound, "table [%s]", table)
	}
	return decodeIndexes(raw)
}

// nextCreationTime 单调递增的创建时间水位，持久化在 meta 桶中
func (s *BoltDBStore) nextCreationTime(tx *bolt.Tx) int64 {
	now := time.Now().UnixMilli()
	meta := tx.Bucket(bucketMeta)
	if raw := meta.Get(metaKeyCreationTime); len(raw) == 8 {
		last := int64(binary.BigEndian.Uint64(raw))
		if now <= last {
			now = last + 1
		}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(now))
	_ = meta.Put(metaKeyCreationTime, buf[:])
	return now
}
