package model

import (
	"fmt"
	"strings"
)

// Protocol discriminator values observed on upstream response bodies.
const (
	ProtocolDataset = "DATASET"
	ProtocolError   = "ERROR"
)

// Row is a single upstream result row: an unordered mapping of column name to
// value. Values are whatever encoding/json produced (string, float64, bool,
// nil).
type Row map[string]any

// Dataset is a tabular upstream response: the Heading column list zipped with
// the Data rows.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Envelope is a parsed upstream response body. Successful tabular responses
// carry {"Protocol":"DATASET","Heading":[...],"Data":[...]}; protocol errors
// carry {"protocol":"ERROR","errorMessage":"..."}. Other protocols return
// object shapes of their own (e.g. {"UserObject":{...},"Groups":[...]}).
type Envelope map[string]any

// Discriminator returns the protocol discriminator value, matching the key
// case-insensitively. The upstream emits "Protocol" on success payloads and
// "protocol" on error payloads; that inconsistency is a real upstream quirk,
// so both are honored rather than assuming one casing.
func (e Envelope) Discriminator() string {
	for k, v := range e {
		if strings.EqualFold(k, "Protocol") {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// ErrorMessage returns the upstream-provided error message, if any.
func (e Envelope) ErrorMessage() string {
	for k, v := range e {
		if strings.EqualFold(k, "errorMessage") {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Dataset zips the Heading column names with the Data value arrays into rows.
// Rows shorter than the heading leave the missing columns unset; extra values
// are dropped.
func (e Envelope) Dataset() (*Dataset, error) {
	rawHeading, ok := e["Heading"].([]any)
	if !ok {
		return nil, fmt.Errorf("response has no Heading array")
	}

	columns := make([]string, 0, len(rawHeading))
	for _, h := range rawHeading {
		s, ok := h.(string)
		if !ok {
			return nil, fmt.Errorf("heading entry %v is not a string", h)
		}
		columns = append(columns, s)
	}

	rawData, ok := e["Data"].([]any)
	if !ok {
		return nil, fmt.Errorf("response has no Data array")
	}

	rows := make([]Row, 0, len(rawData))
	for i, rd := range rawData {
		values, ok := rd.([]any)
		if !ok {
			return nil, fmt.Errorf("data row %d is not an array", i)
		}

		row := make(Row, len(columns))
		for j, col := range columns {
			if j < len(values) {
				row[col] = values[j]
			}
		}
		rows = append(rows, row)
	}

	return &Dataset{Columns: columns, Rows: rows}, nil
}
