package relation

// Cardinality 关系基数，one 最多关联一行，many 关联多行
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// Ref 列句柄，普通结构体值，不依赖任何反射机制
type Ref struct {
	Table  string
	Column string
}

// C 构造单个列句柄
func C(table string, column string) Ref {
	return Ref{Table: table, Column: column}
}

// Cols 构造同一张表上的一组列句柄
func Cols(table string, columns ...string) []Ref {
	refs := make([]Ref, 0, len(columns))
	for _, column := range columns {
		refs = append(refs, Ref{Table: table, Column: column})
	}
	return refs
}

// EdgeOptions 关系声明选项
//
// From 是源表上的连接列，To 是目标表上对应的连接列，两者按位置一一对应。
// 多对多关系通过中间表声明：ThroughFrom 是中间表上与 From 对应的列，
// ThroughTo 是中间表上与 To 对应的列
type EdgeOptions struct {
	From  []Ref
	To    []Ref
	Alias string

	ThroughFrom []Ref
	ThroughTo   []Ref
}

// Edge 抽取产物：一条经过校验的有向关系
//
// InverseEdge 指向同一关系在对端表上的声明，没有声明对端时为 nil。
// 关系加载只消费 Edge，不回看原始声明
type Edge struct {
	Source      string
	Name        string
	Cardinality Cardinality
	Target      string

	SourceFields []string
	TargetFields []string
	Alias        string

	// Through 中间表名，直接关系为空
	Through             string
	ThroughSourceFields []string
	ThroughTargetFields []string

	InverseEdge *Edge
}

// Graph 抽取后的关系图，构建一次后只读，可在并发调用方之间共享
type Graph struct {
	edges    []*Edge
	bySource map[string]map[string]*Edge
}

// Edges 按声明顺序返回全部关系边
func (g *Graph) Edges() []*Edge {
	return append([]*Edge(nil), g.edges...)
}

// Edge 按源表和关系名查找边
func (g *Graph) Edge(sourceTable string, name string) (*Edge, bool) {
	edges, ok := g.bySource[sourceTable]
	if !ok {
		return nil, false
	}
	edge, ok := edges[name]
	return edge, ok
}
