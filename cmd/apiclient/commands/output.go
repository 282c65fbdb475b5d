package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strconv"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/apiclient"
	"github.com/olekukonko/tablewriter"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// JSON formatting.
const defaultJSONIndent = "  "

// render writes value in the requested format.
func render(w io.Writer, format string, value any, columns []string) error {
	switch format {
	case constants.FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", defaultJSONIndent)

		return encoder.Encode(value)
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()

		return encoder.Encode(value)
	case constants.FormatTable, "":
		return renderTable(w, value, columns)
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedOutput, format)
	}
}

// renderResponse writes the status line, for tables, and the decoded body.
func renderResponse(w io.Writer, format string, resp *apiclient.Response, columns []string) error {
	body := gjson.ParseBytes(resp.Body()).Value()

	if format == constants.FormatTable || format == "" {
		_, _ = fmt.Fprintf(w, "HTTP %d\n", resp.HTTPCode())

		if items := gjson.GetBytes(resp.Body(), "result"); items.IsArray() {
			body = items.Value()
		}
	}

	err := render(w, format, body, columns)
	if err != nil {
		return err
	}

	if resp.HTTPCode() >= http.StatusBadRequest {
		return fmt.Errorf("%w with status %d", constants.ErrRequestFailed, resp.HTTPCode())
	}

	return nil
}

func renderTable(w io.Writer, value any, columns []string) error {
	switch typed := value.(type) {
	case map[string]any:
		table := tablewriter.NewWriter(w)
		table.Header("Property", "Value")

		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}

		sort.Strings(keys)

		for _, key := range keys {
			_ = table.Append(key, formatCell(typed[key]))
		}

		return renderOrWrap(table)
	case []any:
		if len(typed) == 0 {
			_, _ = fmt.Fprintln(w, "No results found")

			return nil
		}

		return renderRows(w, typed, columns)
	default:
		_, err := fmt.Fprintln(w, formatCell(typed))

		return err
	}
}

func renderRows(w io.Writer, rows []any, columns []string) error {
	if len(columns) == 0 {
		columns = columnsOf(rows)
	}

	table := tablewriter.NewWriter(w)

	if len(columns) == 0 {
		table.Header("Value")

		for _, row := range rows {
			_ = table.Append(formatCell(row))
		}

		return renderOrWrap(table)
	}

	header := make([]any, len(columns))
	for i, column := range columns {
		header[i] = column
	}

	table.Header(header...)

	for _, row := range rows {
		object, _ := row.(map[string]any)

		cells := make([]any, len(columns))
		for i, column := range columns {
			cells[i] = formatCell(object[column])
		}

		_ = table.Append(cells...)
	}

	return renderOrWrap(table)
}

// columnsOf returns the sorted union of keys across object rows.
func columnsOf(rows []any) []string {
	var columns []string

	for _, row := range rows {
		object, ok := row.(map[string]any)
		if !ok {
			continue
		}

		for key := range object {
			if !slices.Contains(columns, key) {
				columns = append(columns, key)
			}
		}
	}

	sort.Strings(columns)

	return columns
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return constants.NotAvailable
		}

		return string(encoded)
	}
}

func renderOrWrap(table *tablewriter.Table) error {
	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}
