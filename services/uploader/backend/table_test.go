package backend

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devup/services/uploader"
)

func strPtr(s string) *string { return &s }

func TestBuildInsert(t *testing.T) {
	records := []uploader.ManifestRecord{
		{
			FolderName:  "run-01",
			DataType:    "device_test",
			RawData:     json.RawMessage(`{"device_id":"A1","test_results":{"ok":true}}`),
			DeviceID:    strPtr("A1"),
			TestResults: json.RawMessage(`{"ok":true}`),
			TestStatus:  "pending",
			Metadata:    json.RawMessage(`{}`),
		},
		{
			FolderName: "run-01",
			DataType:   "thermal",
			RawData:    json.RawMessage(`{"data_type":"thermal"}`),
			TestStatus: "passed",
			Metadata:   json.RawMessage(`{"rig":"b"}`),
		},
	}

	query, args, err := buildInsert("device_test", records)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, `INSERT INTO "device_test" (folder_name, data_type, raw_data,`))
	assert.Contains(t, query, "($1, $2, $3::jsonb, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12::jsonb)")
	assert.Contains(t, query, "($13, $14, $15::jsonb,")
	assert.Contains(t, query, "$24::jsonb)")
	assert.True(t, strings.HasSuffix(query, "RETURNING id"))

	require.Len(t, args, 2*len(recordColumns))
	assert.Equal(t, "run-01", args[0])
	assert.Equal(t, `{"device_id":"A1","test_results":{"ok":true}}`, args[2])
	assert.Equal(t, strPtr("A1"), args[3])
	assert.Equal(t, `{"ok":true}`, args[6])
	assert.Nil(t, args[12+6], "absent test_results must be SQL NULL")
	assert.Equal(t, "thermal", args[12+1])
	assert.Equal(t, `{"rig":"b"}`, args[12+11])
}

func TestBuildInsertRejectsBadTable(t *testing.T) {
	_, _, err := buildInsert("", []uploader.ManifestRecord{{FolderName: "x"}})
	assert.Error(t, err)
}

func TestBuildUpdateImages(t *testing.T) {
	query, args, err := buildUpdateImages("public.device_test", "run-01", []string{
		"https://cdn.example.com/devicetest/run-01/a.jpg",
		"https://cdn.example.com/devicetest/run-01/b.png",
	})
	require.NoError(t, err)

	assert.Contains(t, query, `UPDATE "public"."device_test"`)
	assert.Contains(t, query, "SET images = $1::jsonb")
	assert.Contains(t, query, "WHERE folder_name = $2")
	require.Len(t, args, 2)
	assert.JSONEq(t, `["https://cdn.example.com/devicetest/run-01/a.jpg","https://cdn.example.com/devicetest/run-01/b.png"]`, args[0].(string))
	assert.Equal(t, "run-01", args[1])
}

func TestBuildUpdateImagesEmptyList(t *testing.T) {
	_, args, err := buildUpdateImages("device_test", "run-01", nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", args[0])

	_, _, err = buildUpdateImages("device_test", "", nil)
	assert.Error(t, err)
}

func TestNewTablesRequiresPool(t *testing.T) {
	_, err := NewTables(nil)
	assert.Error(t, err)
}
