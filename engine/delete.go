package engine

import (
	"context"

	"github.com/hatlonely/dox/filter"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

// DeleteMutation 删除构建器
type DeleteMutation struct {
	engine        *Engine
	table         string
	where         filter.Query
	viewer        any
	allowFullScan bool
	batchSize     int
	maxRows       int
	cursor        string
	returning     bool
}

// Delete 创建删除构建器
func (e *Engine) Delete(table string) *DeleteMutation {
	return &DeleteMutation{engine: e, table: table}
}

func (m *DeleteMutation) Where(where filter.Query) *DeleteMutation {
	m.where = where
	return m
}

func (m *DeleteMutation) Viewer(viewer any) *DeleteMutation {
	m.viewer = viewer
	return m
}

func (m *DeleteMutation) AllowFullScan() *DeleteMutation {
	m.allowFullScan = true
	return m
}

// BatchSize 每次索引扫描取回的行数，缺省取模式级默认值
func (m *DeleteMutation) BatchSize(size int) *DeleteMutation {
	m.batchSize = size
	return m
}

// MaxRows 单次执行处理的行数上限，超出时报 ErrTooManyRows 并附带续跑游标
func (m *DeleteMutation) MaxRows(n int) *DeleteMutation {
	m.maxRows = n
	return m
}

// Cursor 从上一次执行返回的游标处继续
func (m *DeleteMutation) Cursor(cursor string) *DeleteMutation {
	m.cursor = cursor
	return m
}

// Returning 要求返回删除前的完整行
func (m *DeleteMutation) Returning() *DeleteMutation {
	m.returning = true
	return m
}

// Execute 执行删除
//
// 删除会同步移除索引条目，游标基于键序，不受删除影响
func (m *DeleteMutation) Execute(ctx context.Context) (*MutationResult, error) {
	e := m.engine
	table, err := e.table(m.table)
	if err != nil {
		return nil, err
	}

	plan, err := e.compileMutationPlan(table, m.where, m.allowFullScan)
	if err != nil {
		return nil, err
	}

	var docs []store.Document
	result, err := e.mutateRows(ctx, plan, &mutationParams{
		op:        schema.OperationDelete,
		where:     m.where,
		viewer:    m.viewer,
		cursor:    m.cursor,
		batchSize: m.batchSize,
		maxRows:   m.maxRows,
	}, func(doc store.Document) error {
		id, _ := doc[store.FieldID].(string)
		if err := e.accessor.Delete(ctx, id); err != nil {
			return err
		}
		if m.returning {
			docs = append(docs, doc)
		}
		return nil
	})
	if result != nil {
		result.Docs = docs
	}
	if err != nil {
		// 触达行数上限时已删除的行保持删除，result 带续跑游标
		return result, err
	}

	e.logger.Debug("rows deleted", "table", m.table, "count", result.Count, "done", result.IsDone)
	return result, nil
}
