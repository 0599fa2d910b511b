package coretools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/pkg/tool"
)

func setup(t *testing.T, opts Options) (*tool.Executive, string) {
	t.Helper()
	root := t.TempDir()
	opts.WorkspaceRoot = root

	registry := tool.NewRegistry()
	require.NoError(t, Register(registry, opts))
	return tool.NewExecutive(registry, tool.ExecutiveConfig{}), root
}

func invoke(t *testing.T, exec *tool.Executive, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	inv, err := exec.Invoke(context.Background(), name, args, nil)
	require.NoError(t, err)
	out, ok := inv.Output.(map[string]interface{})
	require.True(t, ok, "tool output should be a map")
	return out
}

func TestRegisterDefaultToolSet(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, Register(registry, Options{WorkspaceRoot: t.TempDir()}))

	assert.Equal(t, []string{"http_fetch", "list_directory", "read_file", "write_file"}, registry.List())
	assert.False(t, registry.Has("exec"), "exec must stay unregistered unless enabled")
}

func TestRegisterWithExec(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, Register(registry, Options{WorkspaceRoot: t.TempDir(), EnableExec: true}))

	def, ok := registry.Get("exec")
	require.True(t, ok)
	assert.True(t, def.Unsafe)
}

func TestWriteThenReadFile(t *testing.T) {
	exec, _ := setup(t, Options{})

	out := invoke(t, exec, "write_file", map[string]interface{}{
		"path":    "notes/a.txt",
		"content": "hello",
	})
	assert.Equal(t, 5, out["bytes"])

	out = invoke(t, exec, "read_file", map[string]interface{}{"path": "notes/a.txt"})
	assert.Equal(t, "hello", out["content"])
	assert.Equal(t, false, out["truncated"])
}

func TestWriteFileAppend(t *testing.T) {
	exec, _ := setup(t, Options{})

	invoke(t, exec, "write_file", map[string]interface{}{"path": "log.txt", "content": "one\n"})
	invoke(t, exec, "write_file", map[string]interface{}{"path": "log.txt", "content": "two\n", "append": true})

	out := invoke(t, exec, "read_file", map[string]interface{}{"path": "log.txt"})
	assert.Equal(t, "one\ntwo\n", out["content"])
}

func TestReadFileTruncation(t *testing.T) {
	exec, root := setup(t, Options{})
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte(strings.Repeat("x", 100)), 0644))

	out := invoke(t, exec, "read_file", map[string]interface{}{
		"path":      "big.txt",
		"max_bytes": float64(10),
	})
	assert.Equal(t, true, out["truncated"])
	assert.Len(t, out["content"], 10)
}

func TestPathEscapeRejected(t *testing.T) {
	exec, _ := setup(t, Options{})

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", ".."} {
		t.Run(path, func(t *testing.T) {
			_, err := exec.Invoke(context.Background(), "read_file", map[string]interface{}{"path": path}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "outside the workspace")
		})
	}
}

func TestListDirectory(t *testing.T) {
	exec, root := setup(t, Options{})
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))

	out := invoke(t, exec, "list_directory", map[string]interface{}{})
	assert.Equal(t, 3, out["count"])

	entries, ok := out["entries"].([]map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a.txt", entries[0]["name"])
	assert.Equal(t, "sub", entries[2]["name"])
	assert.Equal(t, true, entries[2]["dir"])
}

func TestExecutionContextOverridesWorkspace(t *testing.T) {
	exec, _ := setup(t, Options{})
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, "here.txt"), []byte("hi"), 0644))

	ec := &tool.ExecutionContext{WorkingDirectory: other}
	inv, err := exec.Invoke(context.Background(), "read_file", map[string]interface{}{"path": "here.txt"}, ec)
	require.NoError(t, err)
	out := inv.Output.(map[string]interface{})
	assert.Equal(t, "hi", out["content"])
}

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "response body")
	}))
	defer srv.Close()

	exec, _ := setup(t, Options{})
	out := invoke(t, exec, "http_fetch", map[string]interface{}{"url": srv.URL})
	assert.Equal(t, http.StatusOK, out["status"])
	assert.Equal(t, "response body", out["body"])
	assert.Equal(t, "text/plain", out["content_type"])
}

func TestHTTPFetchRejectsOtherSchemes(t *testing.T) {
	exec, _ := setup(t, Options{})

	_, err := exec.Invoke(context.Background(), "http_fetch", map[string]interface{}{"url": "file:///etc/passwd"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http or https")
}

func TestHTTPFetchTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("y", 100))
	}))
	defer srv.Close()

	exec, _ := setup(t, Options{})
	out := invoke(t, exec, "http_fetch", map[string]interface{}{
		"url":       srv.URL,
		"max_bytes": float64(10),
	})
	assert.Equal(t, true, out["truncated"])
	assert.Len(t, out["body"], 10)
}

func TestExecRunsCommand(t *testing.T) {
	exec, _ := setup(t, Options{EnableExec: true})

	out := invoke(t, exec, "exec", map[string]interface{}{
		"command": "echo",
		"args":    []interface{}{"hello"},
	})
	assert.Equal(t, "hello\n", out["stdout"])
	assert.Equal(t, 0, out["exit_code"])
}

func TestExecNonZeroExit(t *testing.T) {
	exec, _ := setup(t, Options{EnableExec: true})

	out := invoke(t, exec, "exec", map[string]interface{}{
		"command": "sh",
		"args":    []interface{}{"-c", "exit 3"},
	})
	assert.Equal(t, 3, out["exit_code"])
}
