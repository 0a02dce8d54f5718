package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_DiscriminatorCaseInsensitive(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"success casing", `{"Protocol":"DATASET","Heading":[],"Data":[]}`, ProtocolDataset},
		{"error casing", `{"protocol":"ERROR","errorMessage":"boom"}`, ProtocolError},
		{"upper casing", `{"PROTOCOL":"DATASET"}`, ProtocolDataset},
		{"missing", `{"Heading":[]}`, ""},
		{"non-string value", `{"Protocol":42}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tt.body), &env))
			assert.Equal(t, tt.want, env.Discriminator())
		})
	}
}

func TestEnvelope_ErrorMessageCaseInsensitive(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"protocol":"ERROR","ErrorMessage":"User not found: jdoe"}`), &env))

	assert.Equal(t, "User not found: jdoe", env.ErrorMessage())
}

func TestEnvelope_DatasetZipsHeadingAndData(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{
		"Protocol": "DATASET",
		"Heading": ["Job_Number", "Miles"],
		"Data": [["J-100", 12.5], ["J-101", 3]]
	}`), &env))

	ds, err := env.Dataset()
	require.NoError(t, err)

	assert.Equal(t, []string{"Job_Number", "Miles"}, ds.Columns)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "J-100", ds.Rows[0]["Job_Number"])
	assert.Equal(t, 12.5, ds.Rows[0]["Miles"])
	assert.Equal(t, "J-101", ds.Rows[1]["Job_Number"])
}

func TestEnvelope_DatasetShortRow(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{
		"Heading": ["A", "B", "C"],
		"Data": [["only-a"]]
	}`), &env))

	ds, err := env.Dataset()
	require.NoError(t, err)

	require.Len(t, ds.Rows, 1)
	assert.Equal(t, "only-a", ds.Rows[0]["A"])
	assert.NotContains(t, ds.Rows[0], "B")
	assert.NotContains(t, ds.Rows[0], "C")
}

func TestEnvelope_DatasetExtraValuesDropped(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{
		"Heading": ["A"],
		"Data": [["a", "extra"]]
	}`), &env))

	ds, err := env.Dataset()
	require.NoError(t, err)

	require.Len(t, ds.Rows, 1)
	assert.Equal(t, Row{"A": "a"}, ds.Rows[0])
}

func TestEnvelope_DatasetMissingHeading(t *testing.T) {
	env := Envelope{"Data": []any{}}

	_, err := env.Dataset()
	assert.Error(t, err)
}

func TestEnvelope_DatasetMissingData(t *testing.T) {
	env := Envelope{"Heading": []any{"A"}}

	_, err := env.Dataset()
	assert.Error(t, err)
}

func TestUpstreamRequest_BodyIncludesProtocol(t *testing.T) {
	req := UpstreamRequest{
		Protocol: "RunSQL",
		Fields:   map[string]any{"SQL": "SELECT 1"},
	}

	body := req.Body()
	assert.Equal(t, "RunSQL", body["Protocol"])
	assert.Equal(t, "SELECT 1", body["SQL"])

	// Body must not alias the Fields map.
	body["SQL"] = "mutated"
	assert.Equal(t, "SELECT 1", req.Fields["SQL"])
}
