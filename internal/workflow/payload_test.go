package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinPayload(t *testing.T) {
	p := NewPayloadSource()
	body, err := p.Build("uuid-1", 0)
	require.NoError(t, err)
	assert.Contains(t, body, "basicInfo")
}

func TestPayloadTemplateVariables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	raw := `{"name": "task-{{index}}", "ref": "{{uuid}}", "rand": "{{randomUUID}}"}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	p, err := LoadPayloadFile(path)
	require.NoError(t, err)

	body, err := p.Build("uuid-9", 3)
	require.NoError(t, err)
	assert.Equal(t, "task-3", body["name"])
	assert.Equal(t, "uuid-9", body["ref"])

	_, err = uuid.Parse(body["rand"].(string))
	assert.NoError(t, err, "randomUUID renders a parseable UUID")
}

func TestPayloadDistinctPerTask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"n": "{{randomUUID}}"}`), 0644))

	p, err := LoadPayloadFile(path)
	require.NoError(t, err)

	a, err := p.Build("id", 0)
	require.NoError(t, err)
	b, err := p.Build("id", 1)
	require.NoError(t, err)
	assert.NotEqual(t, a["n"], b["n"])
}

func TestPayloadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0644))

	p, err := LoadPayloadFile(path)
	require.NoError(t, err, "template parse succeeds; rendering catches bad JSON")

	_, err = p.Build("id", 0)
	assert.Error(t, err)
}

func TestLoadPayloadFileMissing(t *testing.T) {
	_, err := LoadPayloadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestInjectIdentifier(t *testing.T) {
	original := map[string]any{
		"basicInfo": map[string]any{"region": "eu", "taskId": "stale"},
		"keep":      true,
	}

	merged := injectIdentifier(original, "fresh")

	basic := merged["basicInfo"].(map[string]any)
	assert.Equal(t, "fresh", basic["taskId"], "identifier always wins")
	assert.Equal(t, "eu", basic["region"])
	assert.Equal(t, true, merged["keep"])

	// The caller's map must stay untouched.
	assert.Equal(t, "stale", original["basicInfo"].(map[string]any)["taskId"])
}

func TestInjectIdentifierNoBasicInfo(t *testing.T) {
	merged := injectIdentifier(map[string]any{"x": 1}, "id-1")
	basic, ok := merged["basicInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "id-1", basic["taskId"])
}
