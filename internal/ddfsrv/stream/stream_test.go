package stream

import (
	"bytes"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResponse(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, jsoniter.Unmarshal(data, &out), "response must be valid JSON: %s", data)
	return out
}

func TestEncoderFraming(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "2024052201", []string{"geo", "time", "population_total"}, 2, false)

	require.NoError(t, enc.WriteRow([]any{"swe", int64(1991), int64(8617375)}))
	require.NoError(t, enc.WriteRow([]any{"swe", int64(1992), nil}))
	require.NoError(t, enc.Close(nil, nil))

	out := decodeResponse(t, buf.Bytes())
	assert.Equal(t, "2024052201", out["version"])
	assert.Equal(t, []any{"geo", "time", "population_total"}, out["header"])
	assert.Len(t, out["rows"], 2)
	assert.NotContains(t, out, "info")
	assert.NotContains(t, out, "warn")
	assert.Equal(t, 2, enc.Written())
}

func TestEncoderSuppressesAllNullValueRows(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "v", []string{"geo", "time", "a", "b"}, 2, true)

	require.NoError(t, enc.WriteRow([]any{"swe", int64(1991), nil, nil}))
	require.NoError(t, enc.WriteRow([]any{"swe", int64(1992), float64(0), nil}))
	require.NoError(t, enc.Close(nil, nil))

	out := decodeResponse(t, buf.Bytes())
	rows := out["rows"].([]any)
	require.Len(t, rows, 1, "the all-null row is dropped, the zero-valued row kept")
	assert.Equal(t, []any{"swe", float64(1992), float64(0), nil}, rows[0])
}

func TestEncoderKeyOnlyRowsAreNeverSuppressed(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "v", []string{"geo", "time"}, 2, true)

	require.NoError(t, enc.WriteRow([]any{"swe", int64(1991)}))
	require.NoError(t, enc.Close(nil, nil))

	out := decodeResponse(t, buf.Bytes())
	assert.Len(t, out["rows"], 1)
}

func TestEncoderEmptyResult(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, "v", []string{"concept"}, 1, false)
	require.NoError(t, enc.Close(nil, []string{"order_by column name is not part of select, ignoring it"}))

	out := decodeResponse(t, buf.Bytes())
	assert.Equal(t, []any{}, out["rows"])
	require.Contains(t, out, "info")
	assert.Contains(t, out["info"].([]any)[0], "no data")
	require.Contains(t, out, "warn")
	assert.Len(t, out["warn"], 1)
}

func TestConvertValue(t *testing.T) {
	tests := []struct {
		dbType string
		in     any
		want   any
	}{
		{"VARCHAR", []byte("swe"), "swe"},
		{"INT", []byte("1991"), int64(1991)},
		{"BIGINT", []byte("8617375"), int64(8617375)},
		{"DOUBLE", []byte("3.5"), 3.5},
		{"DECIMAL", []byte("0.25"), 0.25},
		{"TINYINT", []byte("1"), true},
		{"TINYINT", []byte("0"), false},
		{"TINYINT", int64(1), true},
		{"INT", int64(7), int64(7)},
		{"TEXT", []byte("long description"), "long description"},
		{"JSON", []byte(`{"a":1}`), `{"a":1}`},
		{"INT", nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, convertValue(tt.dbType, tt.in), "%s %v", tt.dbType, tt.in)
	}
}
