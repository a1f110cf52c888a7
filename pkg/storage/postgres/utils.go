package postgres

import (
	"fmt"
	"strings"

	"github.com/oceanbase/memstore/pkg/model"
	"github.com/oceanbase/memstore/pkg/storage"
)

// buildWhereClause builds a WHERE clause starting from $1.
func buildWhereClause(scope *model.Scope, stages []model.Stage) (string, []interface{}) {
	return buildWhereClauseWithOffset(scope, stages, 1)
}

// buildWhereClauseWithOffset builds a WHERE clause starting from a specific parameter index.
func buildWhereClauseWithOffset(scope *model.Scope, stages []model.Stage, startIndex int) (string, []interface{}) {
	conditions := []string{}
	args := []interface{}{}
	argIndex := startIndex

	if scope != nil {
		conditions = append(conditions, fmt.Sprintf("scope_kind = $%d AND scope_id = $%d", argIndex, argIndex+1))
		args = append(args, string(scope.Kind), scope.ID)
		argIndex += 2
	}

	if len(stages) > 0 {
		conditions = append(conditions, fmt.Sprintf("lifecycle_stage IN (%s)", placeholders(argIndex, len(stages))))
		args = append(args, storage.StageStrings(stages)...)
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// placeholders returns n numbered markers starting at $start.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
