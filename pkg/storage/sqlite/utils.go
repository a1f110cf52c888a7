package sqlite

import (
	"strings"

	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
)

// buildWhereClause builds a WHERE clause restricting scope and stages.
func buildWhereClause(scope *model.Scope, stages []model.Stage) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}

	if scope != nil {
		conditions = append(conditions, "scope_kind = ?", "scope_id = ?")
		args = append(args, string(scope.Kind), scope.ID)
	}

	if len(stages) > 0 {
		conditions = append(conditions, "lifecycle_stage IN ("+placeholders(len(stages))+")")
		args = append(args, storage.StageStrings(stages)...)
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
