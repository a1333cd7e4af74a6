package schema

// Operation 行级安全策略作用的操作类型
type Operation string

const (
	OperationSelect Operation = "select"
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Policy 行级安全策略
//
// Using 接收调用方身份和行数据，返回该行对此操作是否可见/可写
type Policy struct {
	For   Operation
	Using func(viewer any, doc map[string]any) bool
}

// RLS 表的行级安全配置
//
// 同一操作的多条策略按或组合（宽容模式）：任意一条放行即放行
type RLS struct {
	Enabled  bool
	Policies []Policy
}

// PoliciesFor 返回作用于指定操作的策略列表
func (r RLS) PoliciesFor(op Operation) []Policy {
	var policies []Policy
	for _, policy := range r.Policies {
		if policy.For == op {
			policies = append(policies, policy)
		}
	}
	return policies
}
