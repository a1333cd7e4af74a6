package relation

import (
	"github.com/pkg/errors"

	"github.com/hatlonely/dox/schema"
)

// extract 将关系声明展平为边列表并完成全部校验
//
// 校验顺序：字段归属 -> 必选 one 关系环检测 -> 反向边配对。
// 任何一步失败都使整个抽取失败，不产出部分结果
func extract(s *schema.Schema, declarations []*declaration) (*Graph, error) {
	graph := &Graph{
		bySource: make(map[string]map[string]*Edge),
	}

	for _, decl := range declarations {
		edge, err := flattenDeclaration(s, decl)
		if err != nil {
			return nil, err
		}
		if graph.bySource[edge.Source] == nil {
			graph.bySource[edge.Source] = make(map[string]*Edge)
		}
		if _, exists := graph.bySource[edge.Source][edge.Name]; exists {
			return nil, errors.Errorf("table [%s] duplicate relation [%s]", edge.Source, edge.Name)
		}
		graph.bySource[edge.Source][edge.Name] = edge
		graph.edges = append(graph.edges, edge)
	}

	if err := detectRequiredOneCycles(s, graph.edges); err != nil {
		return nil, err
	}
	if err := pairInverses(graph.edges); err != nil {
		return nil, err
	}

	return graph, nil
}

func flattenDeclaration(s *schema.Schema, decl *declaration) (*Edge, error) {
	if decl.name == "" {
		return nil, errors.Errorf("table [%s] relation name cannot be empty", decl.source)
	}
	if decl.options == nil {
		return nil, errors.Errorf("table [%s] relation [%s] has no options", decl.source, decl.name)
	}

	sourceTable, ok := s.Table(decl.source)
	if !ok {
		return nil, errors.Errorf("relation [%s] references undefined table [%s]", decl.name, decl.source)
	}
	if _, collides := sourceTable.Column(decl.name); collides {
		return nil, errors.Errorf(
			"table [%s] relation [%s] collides with a column of the same name", decl.source, decl.name)
	}

	options := decl.options
	if len(options.From) == 0 || len(options.To) == 0 {
		return nil, errors.Errorf("table [%s] relation [%s] must declare From and To", decl.source, decl.name)
	}
	if len(options.From) != len(options.To) && len(options.ThroughFrom) == 0 {
		return nil, errors.Errorf(
			"table [%s] relation [%s] From/To field counts differ", decl.source, decl.name)
	}

	targetTable := options.To[0].Table
	edge := &Edge{
		Source:      decl.source,
		Name:        decl.name,
		Cardinality: decl.cardinality,
		Target:      targetTable,
		Alias:       options.Alias,
	}

	var err error
	if edge.SourceFields, err = ownedFields(s, options.From, decl.source); err != nil {
		return nil, errors.WithMessagef(err, "table [%s] relation [%s] From", decl.source, decl.name)
	}
	if edge.TargetFields, err = ownedFields(s, options.To, targetTable); err != nil {
		return nil, errors.WithMessagef(err, "table [%s] relation [%s] To", decl.source, decl.name)
	}
	if _, ok := s.Table(targetTable); !ok {
		return nil, errors.Errorf(
			"table [%s] relation [%s] references undefined table [%s]", decl.source, decl.name, targetTable)
	}

	if len(options.ThroughFrom) > 0 || len(options.ThroughTo) > 0 {
		if decl.cardinality != CardinalityMany {
			return nil, errors.Errorf(
				"table [%s] relation [%s] through relations must be declared with Many", decl.source, decl.name)
		}
		if len(options.ThroughFrom) != len(options.From) || len(options.ThroughTo) != len(options.To) {
			return nil, errors.Errorf(
				"table [%s] relation [%s] through field counts differ", decl.source, decl.name)
		}
		junction := options.ThroughFrom[0].Table
		if _, ok := s.Table(junction); !ok {
			return nil, errors.Errorf(
				"table [%s] relation [%s] references undefined table [%s]", decl.source, decl.name, junction)
		}
		edge.Through = junction
		if edge.ThroughSourceFields, err = ownedFields(s, options.ThroughFrom, junction); err != nil {
			return nil, errors.WithMessagef(err, "table [%s] relation [%s] ThroughFrom", decl.source, decl.name)
		}
		if edge.ThroughTargetFields, err = ownedFields(s, options.ThroughTo, junction); err != nil {
			return nil, errors.WithMessagef(err, "table [%s] relation [%s] ThroughTo", decl.source, decl.name)
		}
	}

	return edge, nil
}

// ownedFields 校验列句柄确实属于期望的表，返回字段名列表
//
// 句柄指向同名但不属于该表的列也会被拒绝
func ownedFields(s *schema.Schema, refs []Ref, wantTable string) ([]string, error) {
	fields := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Table != wantTable {
			return nil, errors.Errorf("column [%s.%s] does not belong to table [%s]", ref.Table, ref.Column, wantTable)
		}
		table, ok := s.Table(ref.Table)
		if !ok {
			return nil, errors.Errorf("column [%s.%s] references undefined table [%s]", ref.Table, ref.Column, ref.Table)
		}
		if _, ok := table.Column(ref.Column); !ok {
			return nil, errors.Errorf("table [%s] has no column [%s]", ref.Table, ref.Column)
		}
		fields = append(fields, ref.Column)
	}
	return fields, nil
}

// detectRequiredOneCycles 必选 one 关系环检测
//
// 只有源字段是指向目标表的非空外键列时，这条 one 边才参与环检测：
// 可空外键允许在 null 处终止，自引用也因此合法
func detectRequiredOneCycles(s *schema.Schema, edges []*Edge) error {
	adjacency := make(map[string][]*Edge)
	for _, edge := range edges {
		if edge.Cardinality != CardinalityOne || edge.Through != "" {
			continue
		}
		if !isRequiredForeignKey(s, edge) {
			continue
		}
		adjacency[edge.Source] = append(adjacency[edge.Source], edge)
	}

	const (
		stateUnvisited = 0
		stateActive    = 1
		stateDone      = 2
	)
	states := make(map[string]int)

	var visit func(table string, path []string) error
	visit = func(table string, path []string) error {
		states[table] = stateActive
		path = append(path, table)
		for _, edge := range adjacency[table] {
			switch states[edge.Target] {
			case stateActive:
				return errors.Errorf(
					"required one-relation cycle through table [%s] (path %v, relation [%s.%s])",
					edge.Target, path, edge.Source, edge.Name)
			case stateUnvisited:
				if err := visit(edge.Target, path); err != nil {
					return err
				}
			}
		}
		states[table] = stateDone
		return nil
	}

	for _, edge := range edges {
		if states[edge.Source] == stateUnvisited {
			if err := visit(edge.Source, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// isRequiredForeignKey 源字段是否全部为指向目标表的非空外键列
func isRequiredForeignKey(s *schema.Schema, edge *Edge) bool {
	table, ok := s.Table(edge.Source)
	if !ok {
		return false
	}
	for _, field := range edge.SourceFields {
		column, ok := table.Column(field)
		if !ok {
			return false
		}
		if column.RefTable() != edge.Target || column.Nullable() {
			return false
		}
	}
	return len(edge.SourceFields) > 0
}

// pairInverses 反向边配对
//
// 按无序表对（through 关系额外带上中间表）分桶。桶内先按别名配对，
// 剩余未配对的边按字段镜像配对；镜像候选超过一个且没有别名区分时报错
func pairInverses(edges []*Edge) error {
	buckets := make(map[string][]*Edge)
	var order []string
	for _, edge := range edges {
		key := bucketKey(edge)
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], edge)
	}

	for _, key := range order {
		bucket := buckets[key]

		byAlias := make(map[string][]*Edge)
		for _, edge := range bucket {
			if edge.Alias != "" {
				byAlias[edge.Alias] = append(byAlias[edge.Alias], edge)
			}
		}
		for alias, aliased := range byAlias {
			if len(aliased) > 2 {
				return errors.Errorf("alias [%s] is declared on more than two relations", alias)
			}
			if len(aliased) == 2 {
				if aliased[0].Source == aliased[1].Source && aliased[0].Target == aliased[1].Target &&
					aliased[0].Source != aliased[0].Target {
					return errors.Errorf("alias [%s] pairs two relations on the same side", alias)
				}
				link(aliased[0], aliased[1])
			}
		}

		for _, edge := range bucket {
			if edge.Alias != "" || edge.InverseEdge != nil {
				continue
			}
			var candidates []*Edge
			for _, other := range bucket {
				if other == edge || other.Alias != "" || other.InverseEdge != nil {
					continue
				}
				if isMirror(edge, other) {
					candidates = append(candidates, other)
				}
			}
			if len(candidates) > 1 {
				return errors.Errorf(
					"relation [%s.%s] has multiple inverse candidates, disambiguate with Alias",
					edge.Source, edge.Name)
			}
			if len(candidates) == 1 {
				link(edge, candidates[0])
			}
		}
	}
	return nil
}

func bucketKey(edge *Edge) string {
	a, b := edge.Source, edge.Target
	if a > b {
		a, b = b, a
	}
	key := a + "|" + b
	if edge.Through != "" {
		key += "|" + edge.Through
	}
	return key
}

// isMirror 两条边是否互为同一关系的两个方向
func isMirror(a *Edge, b *Edge) bool {
	if a.Source != b.Target || a.Target != b.Source {
		return false
	}
	if !equalFields(a.SourceFields, b.TargetFields) || !equalFields(a.TargetFields, b.SourceFields) {
		return false
	}
	if a.Through != b.Through {
		return false
	}
	if a.Through != "" {
		if !equalFields(a.ThroughSourceFields, b.ThroughTargetFields) ||
			!equalFields(a.ThroughTargetFields, b.ThroughSourceFields) {
			return false
		}
	}
	return true
}

func link(a *Edge, b *Edge) {
	a.InverseEdge = b
	b.InverseEdge = a
}

func equalFields(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
