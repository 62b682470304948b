package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const widgetsYAML = `name: Widgets
model:
  idProperty: id
  displayProperty: name
  properties:
    - name: id
      type: int
    - name: name
      type: string
`

// missing display property
const brokenYAML = `name: Broken
model:
  idProperty: id
  properties:
    - name: id
      type: int
`

func TestValidate_Valid(t *testing.T) {
	dir := t.TempDir()
	foo := writeFile(t, dir, "foo.yaml", fooYAML)
	widgets := writeFile(t, dir, "widgets.yaml", widgetsYAML)

	out, _, err := execute("validate", foo, widgets)
	require.NoError(t, err)
	assert.Equal(t, "✓ 2 schema(s) valid\n", out)
}

func TestValidate_ValidJSON(t *testing.T) {
	foo := writeFile(t, t.TempDir(), "foo.yaml", fooYAML)

	out, _, err := execute("--format", "json", "validate", foo)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"Foo"}, resp.Data.Schemas)
}

func TestValidate_Invalid(t *testing.T) {
	dir := t.TempDir()
	foo := writeFile(t, dir, "foo.yaml", fooYAML)
	broken := writeFile(t, dir, "broken.yaml", brokenYAML)

	out, _, err := execute("validate", foo, broken)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, broken)
	assert.Contains(t, out, ErrCodeInvalidSchema)
}

func TestValidate_InvalidJSON(t *testing.T) {
	broken := writeFile(t, t.TempDir(), "broken.yaml", brokenYAML)

	out, _, err := execute("--format", "json", "validate", broken)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  CLIError         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, broken, resp.Data.Errors[0].File)
	assert.Equal(t, ErrCodeInvalidSchema, resp.Error.Code)
}

func TestValidate_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.yaml", fooYAML)
	second := writeFile(t, dir, "b.yaml", fooYAML)

	out, _, err := execute("validate", first, second)
	require.Error(t, err)
	assert.Contains(t, out, `schema "Foo" already defined in `+first)
}

func TestValidate_MissingFile(t *testing.T) {
	out, _, err := execute("validate", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeNotFound+"]")
}

func TestValidate_VerboseLogsToStderr(t *testing.T) {
	foo := writeFile(t, t.TempDir(), "foo.yaml", fooYAML)

	_, errOut, err := execute("-v", "validate", foo)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Validating "+foo)
}

func TestValidate_RequiresArgs(t *testing.T) {
	_, _, err := execute("validate")
	require.Error(t, err)
}
