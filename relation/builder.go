package relation

import (
	"github.com/hatlonely/dox/schema"
)

// Builder 关系声明构建器
//
// 在 Define 的回调中使用，声明在回调返回后统一抽取和校验
type Builder struct {
	declarations []*declaration
}

type declaration struct {
	source      string
	name        string
	cardinality Cardinality
	options     *EdgeOptions
}

// One 声明源表上的一对一/多对一关系，最多关联目标表的一行
func (b *Builder) One(sourceTable string, name string, options *EdgeOptions) {
	b.declarations = append(b.declarations, &declaration{
		source:      sourceTable,
		name:        name,
		cardinality: CardinalityOne,
		options:     options,
	})
}

// Many 声明源表上的一对多/多对多关系
//
// 多对多时在 options 中给出中间表字段（ThroughFrom/ThroughTo）
func (b *Builder) Many(sourceTable string, name string, options *EdgeOptions) {
	b.declarations = append(b.declarations, &declaration{
		source:      sourceTable,
		name:        name,
		cardinality: CardinalityMany,
		options:     options,
	})
}

// Define 执行关系声明回调并抽取关系图
//
// 回调只执行一次；抽取失败是构建期错误，不会部分生效。
// 对同一组声明重复调用产出结构相同的关系图
func Define(s *schema.Schema, fn func(r *Builder)) (*Graph, error) {
	builder := &Builder{}
	fn(builder)
	return extract(s, builder.declarations)
}
