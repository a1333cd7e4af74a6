package engine

import (
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

// 行级安全求值
//
// 同一操作的多条策略按或组合（宽容模式）。开启行级安全但没有声明对应
// 操作的策略时拒绝所有行，与常见数据库的行级安全语义一致

// allowRow 行对指定操作是否放行
func allowRow(table *schema.Table, op schema.Operation, viewer any, doc store.Document) bool {
	rls := table.RLS()
	if !rls.Enabled {
		return true
	}
	for _, policy := range rls.PoliciesFor(op) {
		if policy.Using == nil {
			continue
		}
		if policy.Using(viewer, doc) {
			return true
		}
	}
	return false
}
