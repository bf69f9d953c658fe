package qcache

import (
	"github.com/hashicorp/go-bexpr"
	"github.com/mitchellh/mapstructure"
)

// filterDatum is the flattened view of a Query that Filters.Expr
// expressions are evaluated against (SPEC_FULL.md §10.5). Field names are
// deliberately plain so expressions read naturally, e.g.
// `status == "error" and failure_count > 2`.
type filterDatum struct {
	Hash          string `mapstructure:"hash" bexpr:"hash"`
	Status        string `mapstructure:"status" bexpr:"status"`
	IsFetching    bool   `mapstructure:"fetching" bexpr:"fetching"`
	IsStale       bool   `mapstructure:"stale" bexpr:"stale"`
	IsInvalidated bool   `mapstructure:"invalidated" bexpr:"invalidated"`
	FailureCount  int    `mapstructure:"failure_count" bexpr:"failure_count"`
}

func newFilterDatum(q *Query) filterDatum {
	s := q.State()
	return filterDatum{
		Hash:          q.Hash(),
		Status:        string(s.Status),
		IsFetching:    s.IsFetching,
		IsStale:       q.IsStale(),
		IsInvalidated: s.IsInvalidated,
		FailureCount:  s.FetchFailureCount,
	}
}

// queryFields flattens q into a generic map via mapstructure, the same
// trio (bexpr + mapstructure + pointerstructure) go-bexpr itself depends
// on (§10.5). It is unexported and used by evalFilterExpr for
// Filters.Expr.
func queryFields(q *Query) (map[string]interface{}, error) {
	datum := newFilterDatum(q)
	var out map[string]interface{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "mapstructure",
		Result:  &out,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(datum); err != nil {
		return nil, err
	}
	return out, nil
}

// evalFilterExpr evaluates a go-bexpr boolean expression against the
// mapstructure-flattened view of q, backing Filters.Expr (§4.4 Filters,
// SPEC_FULL.md §10.5).
func evalFilterExpr(expr string, q *Query) (bool, error) {
	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return false, err
	}
	fields, err := queryFields(q)
	if err != nil {
		return false, err
	}
	return evaluator.Evaluate(fields)
}
