package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

// InsertMutation 插入构建器
type InsertMutation struct {
	engine    *Engine
	table     string
	docs      []store.Document
	viewer    any
	returning bool
}

// Insert 创建插入构建器
func (e *Engine) Insert(table string) *InsertMutation {
	return &InsertMutation{engine: e, table: table}
}

// Values 追加待插入的行，可多次调用
func (m *InsertMutation) Values(docs ...store.Document) *InsertMutation {
	m.docs = append(m.docs, docs...)
	return m
}

// Viewer 设置行级安全策略使用的调用方身份
func (m *InsertMutation) Viewer(viewer any) *InsertMutation {
	m.viewer = viewer
	return m
}

// Returning 要求返回插入后的完整行（含系统字段）
func (m *InsertMutation) Returning() *InsertMutation {
	m.returning = true
	return m
}

// Execute 执行插入
//
// 整批先归一化、过策略和唯一约束检查，再逐行写入。批内重复同样触发唯一
// 约束错误，不依赖存储层兜底
func (m *InsertMutation) Execute(ctx context.Context) (*MutationResult, error) {
	e := m.engine
	table, err := e.table(m.table)
	if err != nil {
		return nil, err
	}
	if len(m.docs) == 0 {
		return nil, errors.Errorf("table [%s] insert requires at least one row", m.table)
	}

	batch := make(map[string]bool)
	normalized := make([]store.Document, 0, len(m.docs))
	for i, doc := range m.docs {
		row, err := table.NormalizeDocument(doc)
		if err != nil {
			return nil, errors.WithMessagef(err, "row [%d]", i)
		}
		if !allowRow(table, schema.OperationInsert, m.viewer, row) {
			return nil, errors.WithMessagef(ErrPolicyDenied,
				"table [%s] operation [%s] row [%d]", m.table, schema.OperationInsert, i)
		}
		if err := e.checkUnique(ctx, table, row, "", batch); err != nil {
			return nil, errors.WithMessagef(err, "row [%d]", i)
		}
		normalized = append(normalized, row)
	}

	result := &MutationResult{IsDone: true}
	for _, row := range normalized {
		id, err := e.accessor.Insert(ctx, m.table, row)
		if err != nil {
			return nil, err
		}
		result.IDs = append(result.IDs, id)
		result.Count++

		if m.returning {
			doc, err := e.accessor.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			result.Docs = append(result.Docs, doc)
		}
	}

	e.logger.Debug("rows inserted", "table", m.table, "count", result.Count)
	return result, nil
}
