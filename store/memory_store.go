package store

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

// MemoryStore 进程内存储后端，主要用于测试和单机场景
//
// 每个索引维护一棵 btree，树节点键为保序编码的字段值元组加文档标识
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
	owners map[string]string // 文档标识 -> 表名

	lastCreationTime int64
}

type memoryTable struct {
	name    string
	indexes map[string]Index
	docs    map[string]Document
	trees   map[string]*btree.BTreeG[indexEntry]
}

type indexEntry struct {
	key []byte
	id  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]*memoryTable),
		owners: make(map[string]string),
	}
}

func (s *MemoryStore) DefineTable(table string, indexes []Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tables[table]; exists {
		return errors.Errorf("table [%s] already defined", table)
	}

	t := &memoryTable{
		name:    table,
		indexes: make(map[string]Index),
		docs:    make(map[string]Document),
		trees:   make(map[string]*btree.BTreeG[indexEntry]),
	}
	for _, index := range withCreationTimeIndex(indexes) {
		if _, exists := t.indexes[index.Name]; exists {
			return errors.Errorf("table [%s] duplicate index [%s]", table, index.Name)
		}
		t.indexes[index.Name] = index
		t.trees[index.Name] = btree.NewG(16, func(a, b indexEntry) bool {
			return bytes.Compare(a.key, b.key) < 0
		})
	}

	s.tables[table] = t
	return nil
}

// withCreationTimeIndex 补齐隐含的创建时间索引
func withCreationTimeIndex(indexes []Index) []Index {
	for _, index := range indexes {
		if index.Name == CreationTimeIndex {
			return indexes
		}
	}
	return append([]Index{{Name: CreationTimeIndex, Fields: []string{FieldCreationTime}}}, indexes...)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.owners[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	doc, ok := s.tables[table].docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) Insert(ctx context.Context, table string, doc Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		return "", errors.WithMessagef(ErrTableNotFound, "table [%s]", table)
	}

	id := newDocumentID()
	stored := cloneDocument(doc)
	stored[FieldID] = id
	stored[FieldCreationTime] = s.nextCreationTime()

	for name, index := range t.indexes {
		key, err := entryKey(index, stored, id)
		if err != nil {
			return "", errors.WithMessagef(err, "index [%s]", name)
		}
		t.trees[name].ReplaceOrInsert(indexEntry{key: key, id: id})
	}

	t.docs[id] = stored
	s.owners[id] = table
	return id, nil
}

func (s *MemoryStore) Patch(ctx context.Context, id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.owners[id]
	if !ok {
		return ErrDocumentNotFound
	}
	t := s.tables[table]
	old := t.docs[id]

	updated, err := applyPatch(old, patch)
	if err != nil {
		return err
	}

	for name, index := range t.indexes {
		oldKey, err := entryKey(index, old, id)
		if err != nil {
			return errors.WithMessagef(err, "index [%s]", name)
		}
		newKey, err := entryKey(index, updated, id)
		if err != nil {
			return errors.WithMessagef(err, "index [%s]", name)
		}
		if bytes.Equal(oldKey, newKey) {
			continue
		}
		t.trees[name].Delete(indexEntry{key: oldKey})
		t.trees[name].ReplaceOrInsert(indexEntry{key: newKey, id: id})
	}

	t.docs[id] = updated
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.owners[id]
	if !ok {
		return ErrDocumentNotFound
	}
	t := s.tables[table]
	doc := t.docs[id]

	for name, index := range t.indexes {
		key, err := entryKey(index, doc, id)
		if err != nil {
			return errors.WithMessagef(err, "index [%s]", name)
		}
		t.trees[name].Delete(indexEntry{key: key})
	}

	delete(t.docs, id)
	delete(s.owners, id)
	return nil
}

func (s *MemoryStore) QueryIndex(ctx context.Context, query *IndexQuery) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[query.Table]
	if !ok {
		return nil, errors.WithMessagef(ErrTableNotFound, "table [%s]", query.Table)
	}
	tree, ok := t.trees[query.Index]
	if !ok {
		return nil, errors.WithMessagef(ErrIndexNotFound, "table [%s] index [%s]", query.Table, query.Index)
	}

	lower, upper, err := indexScanBounds(query)
	if err != nil {
		return nil, err
	}

	// 先收集范围内的全部条目，倒序扫描时整体反转
	var entries []indexEntry
	collect := func(entry indexEntry) bool {
		entries = append(entries, entry)
		return true
	}
	if upper == nil {
		tree.AscendGreaterOrEqual(indexEntry{key: lower}, collect)
	} else {
		tree.AscendRange(indexEntry{key: lower}, indexEntry{key: upper}, collect)
	}
	if query.Order == OrderDesc {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}

	if query.Cursor != "" {
		cursorKey, err := decodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}
		pos := 0
		for pos < len(entries) {
			cmp := bytes.Compare(entries[pos].key, cursorKey)
			if (query.Order == OrderDesc && cmp < 0) || (query.Order != OrderDesc && cmp > 0) {
				break
			}
			pos++
		}
		entries = entries[pos:]
	}

	page := &Page{Cursor: query.Cursor, IsDone: true}
	for i, entry := range entries {
		if query.Limit > 0 && i >= query.Limit {
			page.IsDone = false
			break
		}
		page.Docs = append(page.Docs, cloneDocument(t.docs[entry.id]))
		page.Cursor = encodeCursor(entry.key)
	}

	return page, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) nextCreationTime() int64 {
	now := time.Now().UnixMilli()
	if now <= s.lastCreationTime {
		now = s.lastCreationTime + 1
	}
	s.lastCreationTime = now
	return now
}

// entryKey 索引条目键：字段值元组编码后追加文档标识，保证键唯一
func entryKey(index Index, doc Document, id string) ([]byte, error) {
	values := make([]any, 0, len(index.Fields)+1)
	for _, field := range index.Fields {
		values = append(values, doc[field])
	}
	values = append(values, id)
	return EncodeKey(values...)
}

// applyPatch 应用局部更新，DeleteField 表示移除字段
func applyPatch(doc Document, patch map[string]any) (Document, error) {
	updated := cloneDocument(doc)
	for field, value := range patch {
		if field == FieldID || field == FieldCreationTime {
			return nil, errors.WithMessagef(ErrReadOnlyField, "field [%s]", field)
		}
		if _, isDelete := value.(deleteFieldType); isDelete {
			delete(updated, field)
			continue
		}
		updated[field] = value
	}
	return updated, nil
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
