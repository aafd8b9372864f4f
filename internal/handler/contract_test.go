package handler_test

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()

	path, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile("file://" + filepath.ToSlash(path))
	require.NoError(t, err)
	return schema
}

func validateBody(t *testing.T, schema *jsonschema.Schema, body io.Reader) {
	t.Helper()

	var payload interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&payload))
	require.NoError(t, schema.Validate(payload))
}

func TestSubmissionStatusContract(t *testing.T) {
	schema := compileSchema(t, "submission_status.schema.json")
	app := setupSubmissionHandlerApp(&stubSubmissionService{})

	resp, err := app.Test(as(httptest.NewRequest("GET", "/api/v2/praktikum/submissions/5/status", nil), 11, "student"))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	defer resp.Body.Close()

	validateBody(t, schema, resp.Body)
}

func TestClassRecapContract(t *testing.T) {
	schema := compileSchema(t, "class_recap.schema.json")
	app := setupRecapHandlerApp(&stubRecapService{}, stubSettings{}, time.Second)

	resp, err := app.Test(as(httptest.NewRequest("GET", "/api/v2/praktikum/sections/9/recap", nil), 2, "asisten"))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	defer resp.Body.Close()

	validateBody(t, schema, resp.Body)
}
