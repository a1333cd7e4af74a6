package engine

import "github.com/hatlonely/dox/store"

type patchKind int

const (
	patchKeep patchKind = iota
	patchSet
	patchUnset
)

// PatchValue 补丁字段值的和类型：保持 / 写入 / 移除
//
// 零值表示保持原值，通常通过省略字段表达。移除在写入前才翻译为
// 存储层的字段删除约定，不会作为普通值落盘
type PatchValue struct {
	kind  patchKind
	value any
}

// Set 写入字段值
func Set(v any) PatchValue {
	return PatchValue{kind: patchSet, value: v}
}

// Unset 移除字段
func Unset() PatchValue {
	return PatchValue{kind: patchUnset}
}

// Patch 按字段的补丁，未出现的字段保持原值
type Patch map[string]PatchValue

// storePatch 翻译为存储层补丁，移除翻译为 store.DeleteField
func (p Patch) storePatch() map[string]any {
	out := make(map[string]any, len(p))
	for field, value := range p {
		switch value.kind {
		case patchSet:
			out[field] = value.value
		case patchUnset:
			out[field] = store.DeleteField
		}
	}
	return out
}

// applyTo 在内存中预演补丁结果，用于约束校验
func (p Patch) applyTo(doc store.Document) store.Document {
	out := make(store.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for field, value := range p {
		switch value.kind {
		case patchSet:
			out[field] = value.value
		case patchUnset:
			delete(out, field)
		}
	}
	return out
}
