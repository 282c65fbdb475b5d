package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fivetwenty-io/apiclient/internal/config"
	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findSubcommand finds a subcommand by name within a cobra command.
func findSubcommand(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}

	return nil
}

func TestNewRootCommand(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand(BuildInfo{Version: "1.0.0"})
	assert.Equal(t, "apiclient", cmd.Use)
	assert.True(t, cmd.SilenceUsage)

	for _, name := range []string{"version", "index", "get", "post", "put", "delete", "token", "cache", "config"} {
		assert.NotNil(t, findSubcommand(cmd, name), "command %s should exist", name)
	}

	for flag := range flagBindings {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "flag %s should exist", flag)
	}

	output := cmd.PersistentFlags().Lookup("output")
	assert.Equal(t, "o", output.Shorthand)
	assert.Equal(t, constants.FormatTable, output.DefValue)
}

func TestRequestCommands(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand(BuildInfo{})

	index := findSubcommand(cmd, "index")
	require.NotNil(t, index)
	assert.Equal(t, "index RESOURCE", index.Use)
	assert.NotNil(t, index.Flags().Lookup("all"))
	assert.Equal(t, "f", index.Flags().Lookup("filter").Shorthand)
	assert.NotNil(t, index.Flags().Lookup("columns"))

	get := findSubcommand(cmd, "get")
	require.NotNil(t, get)
	assert.Equal(t, "get RESOURCE ID", get.Use)
	assert.NotNil(t, get.Flags().Lookup("param"))

	for _, name := range []string{"post", "put", "delete"} {
		sub := findSubcommand(cmd, name)
		require.NotNil(t, sub)
		assert.NotNil(t, sub.Flags().Lookup("data"), "%s should accept --data", name)
		assert.NotNil(t, sub.Flags().Lookup("data-file"), "%s should accept --data-file", name)
		assert.Equal(t, "H", sub.Flags().Lookup("header").Shorthand)
	}

	cache := findSubcommand(cmd, "cache")
	require.NotNil(t, cache)
	assert.NotNil(t, findSubcommand(cache, "init"))
	assert.NotNil(t, findSubcommand(cache, "purge"))
}

func TestParseValues(t *testing.T) {
	t.Parallel()

	values, err := parseValues([]string{"color=red", "color=blue", "q=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "blue"}, values["color"])
	assert.Equal(t, "a=b", values.Get("q"))
	assert.True(t, values.Has("empty"))

	_, err = parseValues([]string{"novalue"})
	require.ErrorIs(t, err, constants.ErrInvalidFilter)

	_, err = parseValues([]string{"=x"})
	require.ErrorIs(t, err, constants.ErrInvalidFilter)
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	headers, err := parseHeaders([]string{"X-Tenant: acme", "accept:application/json"})
	require.NoError(t, err)
	assert.Equal(t, "acme", headers.Get("X-Tenant"))
	assert.Equal(t, "application/json", headers.Get("Accept"))

	_, err = parseHeaders([]string{"missing-colon"})
	require.ErrorIs(t, err, constants.ErrInvalidHeader)
}

func TestReadData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yamlFile := filepath.Join(dir, "body.yml")
	require.NoError(t, os.WriteFile(yamlFile, []byte("name: widget\nsize: 3\n"), 0o600))

	tests := []struct {
		name    string
		flags   requestFlags
		stdin   string
		want    any
		wantErr error
	}{
		{name: "none", want: nil},
		{name: "json object", flags: requestFlags{data: `{"a":1}`}, want: map[string]any{"a": float64(1)}},
		{name: "json array", flags: requestFlags{data: `[1,2]`}, want: []any{float64(1), float64(2)}},
		{name: "yaml file", flags: requestFlags{dataFile: yamlFile}, want: map[string]any{"name": "widget", "size": 3}},
		{name: "stdin", flags: requestFlags{dataFile: "-"}, stdin: `{"b":true}`, want: map[string]any{"b": true}},
		{name: "scalar", flags: requestFlags{data: `42`}, wantErr: constants.ErrInvalidData},
		{name: "malformed", flags: requestFlags{data: `{`}, wantErr: constants.ErrInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := &cobra.Command{}
			cmd.SetIn(strings.NewReader(tt.stdin))

			data, err := tt.flags.readData(cmd)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestReadObject_DefaultsToEmptyObject(t *testing.T) {
	t.Parallel()

	var flags requestFlags

	data, err := flags.readObject(&cobra.Command{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data)
}

func TestRender(t *testing.T) {
	t.Parallel()

	rows := []any{
		map[string]any{"id": "1", "name": "one"},
		map[string]any{"id": "2", "size": float64(3)},
	}

	var buf bytes.Buffer
	require.NoError(t, render(&buf, constants.FormatTable, rows, nil))
	table := strings.ToUpper(buf.String())
	assert.Contains(t, table, "ID")
	assert.Contains(t, table, "NAME")
	assert.Contains(t, table, "SIZE")
	assert.Contains(t, buf.String(), "one")

	buf.Reset()
	require.NoError(t, render(&buf, constants.FormatJSON, rows, nil))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 2)

	buf.Reset()
	require.NoError(t, render(&buf, constants.FormatYAML, map[string]any{"id": "1"}, nil))
	assert.Equal(t, "id: \"1\"\n", buf.String())

	buf.Reset()
	require.NoError(t, render(&buf, constants.FormatTable, []any{}, nil))
	assert.Equal(t, "No results found\n", buf.String())

	err := render(&buf, "xml", rows, nil)
	require.ErrorIs(t, err, constants.ErrUnsupportedOutput)
}

func TestColumnsOf(t *testing.T) {
	t.Parallel()

	columns := columnsOf([]any{
		map[string]any{"b": 1, "a": 2},
		"scalar",
		map[string]any{"c": 3, "a": 4},
	})
	assert.Equal(t, []string{"a", "b", "c"}, columns)
}

func TestFormatCell(t *testing.T) {
	t.Parallel()

	assert.Empty(t, formatCell(nil))
	assert.Equal(t, "text", formatCell("text"))
	assert.Equal(t, "1.5", formatCell(1.5))
	assert.Equal(t, "true", formatCell(true))
	assert.Equal(t, `{"k":"v"}`, formatCell(map[string]any{"k": "v"}))
}

// widgetAPI is a minimal OAuth2 protected API for command execution tests.
type widgetAPI struct {
	*httptest.Server

	tokenCalls atomic.Int32
	lastTenant atomic.Value
}

func newWidgetAPI(t *testing.T) *widgetAPI {
	t.Helper()

	api := &widgetAPI{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/token", func(w http.ResponseWriter, r *http.Request) {
		api.tokenCalls.Add(1)

		if r.FormValue("client_secret") != "secret" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})

			return
		}

		writeTestJSON(w, http.StatusOK, map[string]any{
			"access_token":  "cli-token",
			"refresh_token": "cli-refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	})

	mux.HandleFunc("GET /v1/widgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorizedRequest(w, r) {
			return
		}

		api.lastTenant.Store(r.Header.Get("X-Tenant"))
		writeTestJSON(w, http.StatusOK, map[string]any{"id": r.PathValue("id"), "name": "widget " + r.PathValue("id")})
	})

	mux.HandleFunc("GET /v1/widgets", func(w http.ResponseWriter, r *http.Request) {
		if !authorizedRequest(w, r) {
			return
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		total := 3
		limit := 2

		var result []map[string]any
		for i := offset; i < total && i < offset+limit; i++ {
			result = append(result, map[string]any{"id": strconv.Itoa(i), "name": "widget " + strconv.Itoa(i)})
		}

		writeTestJSON(w, http.StatusOK, map[string]any{
			"pagination": map[string]any{"limit": limit, "total": total, "offset": offset},
			"result":     result,
		})
	})

	mux.HandleFunc("POST /v1/widgets", func(w http.ResponseWriter, r *http.Request) {
		if !authorizedRequest(w, r) {
			return
		}

		var body map[string]any

		_ = json.NewDecoder(r.Body).Decode(&body)
		body["id"] = "new"
		writeTestJSON(w, http.StatusCreated, body)
	})

	mux.HandleFunc("GET /v1/missing/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !authorizedRequest(w, r) {
			return
		}

		writeTestJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
	})

	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)

	return api
}

func authorizedRequest(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer cli-token" {
		writeTestJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_token"})

		return false
	}

	return true
}

func writeTestJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeTestConfig writes a client_credentials configuration for api.
func writeTestConfig(t *testing.T, api *widgetAPI) string {
	t.Helper()

	content := "base_url: " + api.URL + "/v1\n" +
		"grant: client_credentials\n" +
		"client_id: cli\n" +
		"client_secret: secret\n" +
		"cache_mode: none\n" +
		"cache:\n  type: none\n" +
		"output: json\n"

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := NewRootCommand(BuildInfo{Version: "test"})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), err
}

func TestExecute_Get(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	out, err := execute(t, "--config", cfgFile, "get", "widgets", "7", "-H", "X-Tenant: acme")
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "7", body["id"])
	assert.Equal(t, "widget 7", body["name"])
	assert.Equal(t, "acme", api.lastTenant.Load())
	assert.Equal(t, int32(1), api.tokenCalls.Load())
}

func TestExecute_GetFailureStatus(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	out, err := execute(t, "--config", cfgFile, "get", "missing", "1")
	require.ErrorIs(t, err, constants.ErrRequestFailed)
	assert.Contains(t, out, "not_found")
}

func TestExecute_IndexAll(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	out, err := execute(t, "--config", cfgFile, "index", "widgets", "--all", "--columns", "id")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "0", rows[0]["id"])
	assert.Equal(t, "2", rows[2]["id"])
	assert.NotContains(t, rows[0], "name")
}

func TestExecute_IndexTable(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	out, err := execute(t, "--config", cfgFile, "-o", "table", "index", "widgets")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "HTTP 200\n"))
	assert.Contains(t, out, "widget 1")
}

func TestExecute_Post(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	out, err := execute(t, "--config", cfgFile, "post", "widgets", "--data", `{"name":"gear"}`)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "new", body["id"])
	assert.Equal(t, "gear", body["name"])
}

func TestExecute_InvalidFilter(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	_, err := execute(t, "--config", cfgFile, "index", "widgets", "--filter", "broken")
	require.ErrorIs(t, err, constants.ErrInvalidFilter)
	assert.Equal(t, int32(0), api.tokenCalls.Load())
}

func TestExecute_TokenSave(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	out, err := execute(t, "--config", cfgFile, "token", "--save")
	require.NoError(t, err)

	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, constants.MaskedSecret, shown["access_token"])
	assert.Equal(t, "client_credentials", shown["grant"])

	v := config.NewViper()
	require.NoError(t, config.ReadFile(v, cfgFile))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	assert.Equal(t, "cli-token", cfg.AccessToken)
	assert.Equal(t, "cli-refresh", cfg.RefreshToken)
	assert.Equal(t, api.URL+"/v1", cfg.BaseURL)
}

func TestExecute_TokenShow(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	out, err := execute(t, "--config", cfgFile, "token", "--show")
	require.NoError(t, err)
	assert.Contains(t, out, "cli-token")
}

func TestExecute_BadCredentials(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	_, err := execute(t, "--config", cfgFile, "--client-secret", "wrong", "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to authenticate")
}

func TestExecute_ConfigInitAndShow(t *testing.T) {
	t.Parallel()

	cfgFile := filepath.Join(t.TempDir(), "apiclient", "config.yml")

	out, err := execute(t, "--config", cfgFile, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, cfgFile)

	_, err = execute(t, "--config", cfgFile, "config", "init")
	require.ErrorIs(t, err, constants.ErrConfigAlreadyExists)

	out, err = execute(t, "--config", cfgFile, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: https://api.example.com/v1")
	assert.NotContains(t, out, "my-secret")
}

func TestExecute_CachePurgeUnsupported(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	_, err := execute(t, "--config", cfgFile, "--cache-type", "memory", "cache", "purge")
	require.ErrorIs(t, err, constants.ErrCacheNotPurgeable)
}

func TestExecute_CacheInitChain(t *testing.T) {
	t.Parallel()

	content := "base_url: https://api.example.com/v1\n" +
		"client_id: cli\n" +
		"client_secret: secret\n" +
		"cache:\n  type: chain\n  levels: [memory, none]\n"

	cfgFile := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o600))

	out, err := execute(t, "--config", cfgFile, "cache", "init")
	require.NoError(t, err)
	assert.Contains(t, out, `Cache backend "chain" is ready`)

	_, err = execute(t, "--config", cfgFile, "cache", "purge")
	require.ErrorIs(t, err, constants.ErrCacheNotPurgeable)
}

func TestExecute_Version(t *testing.T) {
	t.Parallel()

	api := newWidgetAPI(t)
	cfgFile := writeTestConfig(t, api)

	out, err := execute(t, "--config", cfgFile, "version")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "test"`)
}
