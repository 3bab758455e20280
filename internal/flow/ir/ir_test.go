package ir_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/flowforge/internal/apperr"
	"github.com/aretw0/flowforge/internal/flow/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_RefAndNodeMap(t *testing.T) {
	doc := ir.Document{
		ID: "greet", Version: 3, Entry: "say",
		Nodes: []ir.NodeSpec{{ID: "say", Type: "WriteState"}},
	}
	assert.Equal(t, "greet@3", doc.Ref())

	nm, err := doc.NodeMap()
	require.NoError(t, err)
	assert.Contains(t, nm, "say")
}

func TestDocument_NodeMapRejectsMissingEntry(t *testing.T) {
	doc := ir.Document{ID: "x", Version: 1, Entry: "nope", Nodes: []ir.NodeSpec{{ID: "a", Type: "WriteState"}}}
	_, err := doc.NodeMap()
	require.Error(t, err)
	assert.Equal(t, apperr.KindSchema, apperr.KindOf(err))
}

func TestDocument_NodeMapRejectsDuplicateIDs(t *testing.T) {
	doc := ir.Document{
		ID: "x", Version: 1, Entry: "a",
		Nodes: []ir.NodeSpec{{ID: "a", Type: "WriteState"}, {ID: "a", Type: "ReadState"}},
	}
	_, err := doc.NodeMap()
	require.Error(t, err)
	assert.Equal(t, apperr.KindSchema, apperr.KindOf(err))
}

func TestNodeSpec_ShareStateOrDefaultDefaultsTrue(t *testing.T) {
	var n ir.NodeSpec
	assert.True(t, n.ShareStateOrDefault())

	no := false
	n.ShareState = &no
	assert.False(t, n.ShareStateOrDefault())
}

func TestValidateDocument_RejectsMissingRequiredFields(t *testing.T) {
	err := ir.ValidateDocument(ir.Document{Nodes: []ir.NodeSpec{}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindSchema, apperr.KindOf(err))
}

func TestValidateDocument_AcceptsWellFormedDocument(t *testing.T) {
	doc := ir.Document{
		ID: "x", Version: 1, Entry: "a",
		Nodes: []ir.NodeSpec{{ID: "a", Type: "WriteState", Params: map[string]any{"from_item_map": map[string]any{}}}},
	}
	assert.NoError(t, ir.ValidateDocument(doc))
}

func TestLoader_RegisterThenGetAndLatestVersionResolution(t *testing.T) {
	loader := ir.NewLoader(nil)
	_, err := loader.Register(ir.Document{ID: "flow", Version: 1, Entry: "a", Nodes: []ir.NodeSpec{{ID: "a", Type: "WriteState"}}})
	require.NoError(t, err)
	_, err = loader.Register(ir.Document{ID: "flow", Version: 2, Entry: "a", Nodes: []ir.NodeSpec{{ID: "a", Type: "WriteState"}}})
	require.NoError(t, err)

	exact, err := loader.Get("flow@1")
	require.NoError(t, err)
	assert.Equal(t, 1, exact.Version)

	latest, err := loader.Get("flow")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version, "bare id resolves to the highest registered version")
}

func TestLoader_GetUnknownRefIsNotFound(t *testing.T) {
	loader := ir.NewLoader(nil)
	_, err := loader.Get("nope@1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestLoader_LoadDirsReadsYAMLAndJSONAndSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("id: a\nversion: 1\nentry: n1\nnodes:\n  - id: n1\n    type: WriteState\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"id":"b","version":1,"entry":"n1","nodes":[{"id":"n1","type":"WriteState"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{not valid json`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("irrelevant"), 0o644))

	loader := ir.NewLoader(nil)
	count, err := loader.LoadDirs([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, 2, count, "bad and non-IR files must be skipped, not abort the scan")

	flows := loader.ListFlows()
	assert.Contains(t, flows, "a@1")
	assert.Contains(t, flows, "b@1")
}

func TestLoader_ReloadReplacesDocsAtomically(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "first.json"), []byte(`{"id":"first","version":1,"entry":"n","nodes":[{"id":"n","type":"WriteState"}]}`), 0o644))

	loader := ir.NewLoader(nil)
	_, err := loader.LoadDirs([]string{dir})
	require.NoError(t, err)
	require.Contains(t, loader.ListFlows(), "first@1")

	require.NoError(t, os.Remove(filepath.Join(dir, "first.json")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.json"), []byte(`{"id":"second","version":1,"entry":"n","nodes":[{"id":"n","type":"WriteState"}]}`), 0o644))

	_, err = loader.Reload([]string{dir})
	require.NoError(t, err)
	flows := loader.ListFlows()
	assert.NotContains(t, flows, "first@1", "reload must fully replace the doc set, not merge into it")
	assert.Contains(t, flows, "second@1")
}

func TestLoader_NodeMapResolvesBareID(t *testing.T) {
	loader := ir.NewLoader(nil)
	_, err := loader.Register(ir.Document{ID: "flow", Version: 1, Entry: "a", Nodes: []ir.NodeSpec{{ID: "a", Type: "WriteState"}}})
	require.NoError(t, err)

	nm, err := loader.NodeMap("flow")
	require.NoError(t, err)
	assert.Contains(t, nm, "a")
}
