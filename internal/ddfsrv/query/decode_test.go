package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	q, aerr := Decode(`{
		"select": {"key": ["time", "geo"], "value": ["population_total"]},
		"from": "datapoints",
		"where": {"time": {"$gte": 1990, "$lte": 2000}, "geo": "$geo"},
		"join": {"$geo": {"key": "geo", "where": {"world_4region": "europe"}}},
		"order_by": ["time", {"geo": "desc"}],
		"language": "ru-RU"
	}`)
	require.Nil(t, aerr)

	assert.Equal(t, []string{"geo", "time"}, q.Select.Key, "key is sorted")
	assert.Equal(t, []string{"population_total"}, q.Select.Value)
	assert.Equal(t, "datapoints", q.From)
	assert.Equal(t, "ru-RU", q.Language)
	assert.Equal(t, []Sort{{Column: "time"}, {Column: "geo", Desc: true}}, q.OrderBy)

	require.Contains(t, q.Join, "$geo")
	assert.Equal(t, "geo", q.Join["$geo"].Key)
	assert.Equal(t, Cmp{Col: "world_4region", Op: "$eq", Value: "europe"}, q.Join["$geo"].Where)

	and, ok := q.Where.(And)
	require.True(t, ok)
	assert.Len(t, and, 2)
}

func TestDecodeURLONQuery(t *testing.T) {
	q, aerr := Decode("$select$key@=concept;&value@=name;;&from=concepts&where$concept/_type=measure")
	require.Nil(t, aerr)
	assert.Equal(t, "concepts", q.From)
	assert.Equal(t, []string{"concept"}, q.Select.Key)
	assert.Equal(t, Cmp{Col: "concept_type", Op: "$eq", Value: "measure"}, q.Where)
}

func TestDecodeScalarWhereIsEquality(t *testing.T) {
	q, aerr := Decode(`{"select": {"key": ["concept"], "value": []}, "from": "concepts", "where": {"concept": "geo"}}`)
	require.Nil(t, aerr)
	assert.Equal(t, Cmp{Col: "concept", Op: "$eq", Value: "geo"}, q.Where)
}

func TestDecodeJoinReference(t *testing.T) {
	q, aerr := Decode(`{"select": {"key": ["geo", "time"], "value": []}, "from": "datapoints",
		"where": {"geo": "$geo"}, "join": {"$geo": {"key": "geo"}}}`)
	require.Nil(t, aerr)
	assert.Equal(t, JoinRef{Col: "geo", Var: "$geo"}, q.Where)
}

func TestDecodeLogicalOperators(t *testing.T) {
	q, aerr := Decode(`{"select": {"key": ["concept"], "value": []}, "from": "concepts",
		"where": {"$or": [{"concept": "geo"}, {"$and": [{"concept": "time"}, {"concept_type": "time"}]}]}}`)
	require.Nil(t, aerr)

	or, ok := q.Where.(Or)
	require.True(t, ok)
	require.Len(t, or, 2)
	_, ok = or[1].(And)
	assert.True(t, ok)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"garbage", "%%%not a query", ErrNotDecodable},
		{"empty", "", ErrNotDecodable},
		{"no select", `{"from": "concepts"}`, ErrMissingSelect},
		{"key not a list", `{"select": {"key": "concept"}, "from": "concepts"}`, ErrSelectKey},
		{"empty key", `{"select": {"key": [], "value": []}, "from": "concepts"}`, ErrSelectKey},
		{"value not strings", `{"select": {"key": ["concept"], "value": [1]}, "from": "concepts"}`, ErrSelectValue},
		{"no from", `{"select": {"key": ["concept"], "value": []}}`, ErrMissingFrom},
		{"bad from", `{"select": {"key": ["concept"], "value": []}, "from": "measures"}`, ErrNotSupported},
		{"bad order", `{"select": {"key": ["concept"], "value": []}, "from": "concepts", "order_by": [1]}`, ErrMalformedOrder},
		{"bad direction", `{"select": {"key": ["concept"], "value": []}, "from": "concepts", "order_by": [{"concept": "down"}]}`, ErrMalformedOrder},
		{"bad language", `{"select": {"key": ["concept"], "value": []}, "from": "concepts", "language": "x"}`, ErrMalformedLang},
		{"bad join name", `{"select": {"key": ["concept"], "value": []}, "from": "concepts", "join": {"geo": {"key": "geo"}}}`, ErrMalformedJoin},
		{"join without key", `{"select": {"key": ["concept"], "value": []}, "from": "concepts", "join": {"$geo": {}}}`, ErrMalformedJoin},
		{"bad where", `{"select": {"key": ["concept"], "value": []}, "from": "concepts", "where": {"concept": {"$like": "g%"}}}`, ErrMalformedWhere},
		{"bad logical", `{"select": {"key": ["concept"], "value": []}, "from": "concepts", "where": {"$not": [{"concept": "geo"}]}}`, ErrMalformedWhere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, aerr := Decode(tt.raw)
			require.NotNil(t, aerr)
			assert.True(t, errors.Is(aerr, tt.want), "got %v, want %v", aerr, tt.want)
		})
	}
}
