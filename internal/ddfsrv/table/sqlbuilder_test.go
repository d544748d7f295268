package table

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wideDef(t *testing.T) *Def {
	t.Helper()
	d := NewDef(KindDatapoints, []string{"geo", "time"})
	d.SetColumn(&Column{Name: "geo", Type: "VARCHAR(10)"})
	d.SetColumn(&Column{Name: "time", Type: "INTEGER"})
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("v%d", i)
		d.AddValue(name)
		d.SetColumn(&Column{Name: name, Type: "DOUBLE"})
	}
	d.Partition("dp", 4, 8000) // two values per shard
	require.Len(t, d.Shards, 2)
	return d
}

func TestBuildSelectSingleShard(t *testing.T) {
	d := wideDef(t)
	sql, err := d.BuildSelect(&SelectRequest{
		Projection: []ProjectedColumn{
			{Name: "geo", Source: "geo"},
			{Name: "time", Source: "time"},
			{Name: "v0", Source: "v0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT `t0`.`geo`, `t0`.`time`, `t0`.`v0`\nFROM `dp` AS `t0`", sql)
}

func TestBuildSelectJoinsSecondShard(t *testing.T) {
	d := wideDef(t)
	sql, err := d.BuildSelect(&SelectRequest{
		Projection: []ProjectedColumn{
			{Name: "geo", Source: "geo"},
			{Name: "v3", Source: "v3"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "INNER JOIN `dp_1` AS `t1` ON `t1`.`geo` = `t0`.`geo` AND `t1`.`time` = `t0`.`time`")
	assert.Contains(t, sql, "`t1`.`v3`")
}

func TestBuildSelectFilterPullsShardIn(t *testing.T) {
	d := wideDef(t)
	sql, err := d.BuildSelect(&SelectRequest{
		Projection: []ProjectedColumn{{Name: "geo", Source: "geo"}},
		Where: []Condition{
			{Ref: ColumnRef{Column: "v2"}, Op: "$gt", Value: float64(10)},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "INNER JOIN `dp_1` AS `t1`")
	assert.Contains(t, sql, "WHERE `t1`.`v2` > 10")
}

func TestBuildSelectUserJoinAndOrder(t *testing.T) {
	d := wideDef(t)
	sql, err := d.BuildSelect(&SelectRequest{
		Projection: []ProjectedColumn{
			{Name: "geo", Source: "geo"},
			{Name: "v0", Source: "v0"},
		},
		Joins: []Join{{Table: "geo", Alias: "geo_j", On: "geo"}},
		Where: []Condition{
			{Ref: ColumnRef{Join: "geo_j", Column: "world_4region"}, Op: "$eq", Value: "europe"},
		},
		OrderBy: []Sort{{Column: "v0", Desc: true}, {Column: "geo"}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "INNER JOIN `geo` AS `geo_j` ON `geo_j`.`geo` = `t0`.`geo`")
	assert.Contains(t, sql, "WHERE `geo_j`.`world_4region` <=> 'europe'")
	assert.Contains(t, sql, "ORDER BY `t0`.`v0` DESC, `t0`.`geo`")
}

func TestBuildSelectUnknownColumn(t *testing.T) {
	d := wideDef(t)
	_, err := d.BuildSelect(&SelectRequest{
		Projection: []ProjectedColumn{{Name: "nope", Source: "nope"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestConditionSQL(t *testing.T) {
	resolve := func(ref ColumnRef) (string, error) {
		return QuoteIdent(ref.Column), nil
	}
	tests := []struct {
		name string
		cond Condition
		want string
	}{
		{"null-safe equality", Condition{Ref: ColumnRef{Column: "geo"}, Op: "$eq", Value: "swe"}, "`geo` <=> 'swe'"},
		{"null equality", Condition{Ref: ColumnRef{Column: "v"}, Op: "$eq", Value: nil}, "`v` <=> NULL"},
		{"boolean true", Condition{Ref: ColumnRef{Column: "is--country"}, Op: "$eq", Value: true}, "`is--country` IS TRUE"},
		{"boolean negation", Condition{Ref: ColumnRef{Column: "is--country"}, Op: "$ne", Value: false}, "`is--country` IS NOT FALSE"},
		{"not equal", Condition{Ref: ColumnRef{Column: "time"}, Op: "$ne", Value: float64(1990)}, "NOT (`time` <=> 1990)"},
		{"in list", Condition{Ref: ColumnRef{Column: "geo"}, Op: "$in", Value: []any{"swe", "nor"}}, "`geo` IN ('swe', 'nor')"},
		{"not in list", Condition{Ref: ColumnRef{Column: "geo"}, Op: "$nin", Value: []any{"usa"}}, "`geo` NOT IN ('usa')"},
		{
			"conjunction",
			Condition{All: []Condition{
				{Ref: ColumnRef{Column: "time"}, Op: "$gte", Value: float64(1990)},
				{Ref: ColumnRef{Column: "time"}, Op: "$lte", Value: float64(2000)},
			}},
			"(`time` >= 1990 AND `time` <= 2000)",
		},
		{
			"disjunction",
			Condition{Any: []Condition{
				{Ref: ColumnRef{Column: "geo"}, Op: "$eq", Value: "swe"},
				{Ref: ColumnRef{Column: "geo"}, Op: "$eq", Value: "nor"},
			}},
			"(`geo` <=> 'swe' OR `geo` <=> 'nor')",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, err := conditionSQL(tt.cond, resolve)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sql)
		})
	}

	_, err := conditionSQL(Condition{Ref: ColumnRef{Column: "geo"}, Op: "$in", Value: "swe"}, resolve)
	require.Error(t, err, "$in needs a list operand")
	assert.True(t, strings.Contains(err.Error(), "list"))
}
