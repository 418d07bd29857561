package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/taskmem/internal/config"
	"github.com/HendryAvila/taskmem/internal/logging"
)

func openComponents(t *testing.T) *Components {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TASKMEM_DATA_DIR", dir)
	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	c, err := Open(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// rpc sends one JSON-RPC request to s and decodes the result member.
func rpc(t *testing.T, c *Components, method string, result any) {
	t.Helper()
	s := New(c)
	msg := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"` + method + `","params":{}}`)
	resp := s.HandleMessage(context.Background(), msg)
	require.NotNil(t, resp)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  any             `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.Nil(t, envelope.Error, "rpc error: %s", raw)
	require.NoError(t, json.Unmarshal(envelope.Result, result))
}

func TestOpen_CreatesRegistry(t *testing.T) {
	c := openComponents(t)
	assert.FileExists(t, c.Config.RegistryPath())
	assert.Equal(t, 30, c.Config.RetentionDays)
}

func TestOpen_RejectsUnknownEstimator(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{DataDir: dir}
	cfg.Tokens.Estimator = "bogus"
	cfg.Tokens.CharsPerToken = 4

	_, err := Open(cfg, logging.Discard())
	require.Error(t, err)
	assert.NoFileExists(t, cfg.RegistryPath())
}

func TestNew_RegistersTools(t *testing.T) {
	c := openComponents(t)

	var out struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	rpc(t, c, "tools/list", &out)

	names := make([]string, 0, len(out.Tools))
	for _, tool := range out.Tools {
		names = append(names, tool.Name)
	}
	assert.Len(t, names, 22)
	for _, want := range []string{
		"create_task", "get_task_tree", "cleanup_deleted_tasks",
		"create_entity", "link_entity_to_task", "unlink_entity_from_task",
		"list_projects", "set_project_name",
	} {
		assert.Contains(t, names, want)
	}
}

func TestNew_RegistersPromptsAndResources(t *testing.T) {
	c := openComponents(t)

	var prompts struct {
		Prompts []struct {
			Name string `json:"name"`
		} `json:"prompts"`
	}
	rpc(t, c, "prompts/list", &prompts)
	require.Len(t, prompts.Prompts, 2)

	var resources struct {
		Resources []struct {
			URI string `json:"uri"`
		} `json:"resources"`
	}
	rpc(t, c, "resources/list", &resources)
	uris := []string{}
	for _, r := range resources.Resources {
		uris = append(uris, r.URI)
	}
	assert.ElementsMatch(t, []string{"taskmem://projects", "taskmem://workspace/current"}, uris)
}
