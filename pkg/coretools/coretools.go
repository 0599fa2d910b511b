// Package coretools registers the baseline filesystem, network, and command
// tools every deployment starts with.
package coretools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/conductor-ai/conductor/pkg/tool"
)

const (
	defaultReadLimit  = 200_000
	defaultFetchLimit = 500_000
	maxListEntries    = 1000
)

// Options configures core tool registration.
type Options struct {
	// WorkspaceRoot confines filesystem tools when the execution context
	// carries no working directory.
	WorkspaceRoot string

	// EnableExec registers the command-execution tool. It stays unregistered
	// by default; a plan can then never name it.
	EnableExec bool

	// HTTPClient overrides the client used by http_fetch. Nil uses a client
	// with a sane timeout.
	HTTPClient *http.Client
}

// Register adds the core tools to a registry.
func Register(registry *tool.Registry, opts Options) error {
	tools := []tool.Definition{
		readFileTool(opts),
		writeFileTool(opts),
		listDirectoryTool(opts),
		httpFetchTool(opts),
	}
	if opts.EnableExec {
		tools = append(tools, execTool(opts))
	}

	for _, def := range tools {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("register core tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func readFileTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read", Required: false, Default: float64(defaultReadLimit)},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			pathValue, _ := args["path"].(string)
			target, err := resolveInWorkspace(root, pathValue)
			if err != nil {
				return nil, err
			}

			limit := int64(defaultReadLimit)
			if raw, ok := args["max_bytes"].(float64); ok && raw > 0 {
				limit = int64(raw)
			}

			data, truncated, err := readWithLimit(target, limit)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func writeFileTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "File path relative to the workspace", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			pathValue, _ := args["path"].(string)
			target, err := resolveInWorkspace(root, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}
			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			if _, err := f.WriteString(content); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func listDirectoryTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "list_directory",
		Description: "List entries of a workspace directory.",
		Parameters: []tool.Parameter{
			{Name: "path", Type: "string", Description: "Directory path relative to the workspace", Required: false, Default: "."},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}
			pathValue, _ := args["path"].(string)
			if strings.TrimSpace(pathValue) == "" {
				pathValue = "."
			}
			target, err := resolveInWorkspace(root, pathValue)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}

			names := make([]map[string]interface{}, 0, len(entries))
			for i, entry := range entries {
				if i >= maxListEntries {
					break
				}
				info := map[string]interface{}{
					"name": entry.Name(),
					"dir":  entry.IsDir(),
				}
				if fi, err := entry.Info(); err == nil && !entry.IsDir() {
					info["size"] = fi.Size()
				}
				names = append(names, info)
			}
			sort.Slice(names, func(i, j int) bool {
				return names[i]["name"].(string) < names[j]["name"].(string)
			})

			return map[string]interface{}{
				"path":    pathValue,
				"entries": names,
				"count":   len(names),
			}, nil
		},
	}
}

func httpFetchTool(opts Options) tool.Definition {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return tool.Definition{
		Name:        "http_fetch",
		Description: "Fetch a URL over HTTP or HTTPS and return the body.",
		Parameters: []tool.Parameter{
			{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum response bytes", Required: false, Default: float64(defaultFetchLimit)},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			rawURL, _ := args["url"].(string)
			rawURL = strings.TrimSpace(rawURL)
			if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
				return nil, fmt.Errorf("url must use http or https")
			}

			limit := int64(defaultFetchLimit)
			if raw, ok := args["max_bytes"].(float64); ok && raw > 0 {
				limit = int64(raw)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
			if err != nil {
				return nil, err
			}
			truncated := int64(len(body)) == limit

			return map[string]interface{}{
				"url":          rawURL,
				"status":       resp.StatusCode,
				"content_type": resp.Header.Get("Content-Type"),
				"body":         string(body),
				"truncated":    truncated,
			}, nil
		},
	}
}

func execTool(opts Options) tool.Definition {
	return tool.Definition{
		Name:        "exec",
		Description: "Run a command in the workspace. Requires explicit permission.",
		Unsafe:      true,
		Parameters: []tool.Parameter{
			{Name: "command", Type: "string", Description: "Executable to run", Required: true},
			{Name: "args", Type: "array", Description: "Command arguments", Required: false},
			{Name: "timeout_seconds", Type: "number", Description: "Kill the command after this long", Required: false, Default: float64(30)},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			command, _ := args["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, fmt.Errorf("command is required")
			}
			root, err := workspaceRoot(ctx, opts)
			if err != nil {
				return nil, err
			}

			timeout := 30 * time.Second
			if raw, ok := args["timeout_seconds"].(float64); ok && raw > 0 {
				timeout = time.Duration(raw * float64(time.Second))
			}
			cmdCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			// Arguments are passed verbatim; no shell interpretation.
			cmd := exec.CommandContext(cmdCtx, command, toStringSlice(args["args"])...)
			cmd.Dir = root

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			start := time.Now()
			runErr := cmd.Run()
			exitCode := 0
			if runErr != nil {
				if exitErr, ok := runErr.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				} else {
					return nil, runErr
				}
			}

			return map[string]interface{}{
				"stdout":      stdout.String(),
				"stderr":      stderr.String(),
				"exit_code":   exitCode,
				"duration_ms": time.Since(start).Milliseconds(),
			}, nil
		},
	}
}

// workspaceRoot prefers the execution context's working directory over the
// configured default.
func workspaceRoot(ctx context.Context, opts Options) (string, error) {
	if ec := tool.ExecutionContextFrom(ctx); ec != nil && strings.TrimSpace(ec.WorkingDirectory) != "" {
		return filepath.Clean(ec.WorkingDirectory), nil
	}
	if strings.TrimSpace(opts.WorkspaceRoot) != "" {
		return filepath.Clean(opts.WorkspaceRoot), nil
	}
	return "", fmt.Errorf("workspace root is not configured")
}

// resolveInWorkspace joins and cleans a path, rejecting anything that escapes
// the workspace root.
func resolveInWorkspace(root string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", pathValue)
	}
	return candidate, nil
}

func readWithLimit(path string, limit int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, f, limit); err != nil && err != io.EOF {
		return nil, false, err
	}
	truncated := false
	if extra := make([]byte, 1); true {
		if _, err := f.Read(extra); err == nil {
			truncated = true
		}
	}
	return buf.Bytes(), truncated, nil
}

func toStringSlice(value interface{}) []string {
	raw, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
