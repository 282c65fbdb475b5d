package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// requestFlags are shared by the verb commands.
type requestFlags struct {
	filters  []string
	headers  []string
	data     string
	dataFile string
	columns  []string
}

func (f *requestFlags) addHeaders(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "extra request header as 'Name: value' (repeatable)")
}

func (f *requestFlags) addFilters(cmd *cobra.Command, name, usage string) {
	cmd.Flags().StringArrayVarP(&f.filters, name, "f", nil, usage)
}

func (f *requestFlags) addData(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "request body as JSON")
	cmd.Flags().StringVar(&f.dataFile, "data-file", "", "read the request body from a JSON or YAML file, - for stdin")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
}

func (f *requestFlags) addColumns(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "table columns to show for lists")
}

// NewIndexCommand creates the index command.
func NewIndexCommand(a *app) *cobra.Command {
	var (
		flags requestFlags
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "index RESOURCE",
		Short: "Search a resource",
		Long:  "Search a resource, optionally walking every page of the result",
		Example: `  apiclient index widgets --filter color=red
  apiclient index widgets --all --columns id,name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := parseValues(flags.filters)
			if err != nil {
				return err
			}

			return a.withClient(cmd, flags.headers, func(s *session) error {
				if all {
					return walkCollection(cmd, s, args[0], filters, flags.columns)
				}

				resp, err := s.client.Index(cmd.Context(), args[0], filters)
				if err != nil {
					return err
				}

				return renderResponse(cmd.OutOrStdout(), s.cfg.Output, resp, flags.columns)
			})
		},
	}

	flags.addFilters(cmd, "filter", "search filter as key=value (repeatable)")
	flags.addHeaders(cmd)
	flags.addColumns(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "walk every page of the collection")

	return cmd
}

func walkCollection(cmd *cobra.Command, s *session, resource string, filters url.Values, columns []string) error {
	ctx := cmd.Context()

	coll, err := s.client.Collection(resource, filters)
	if err != nil {
		return err
	}

	var rows []any

	if len(columns) > 0 {
		for row := range coll.Select(ctx, columns...) {
			rows = append(rows, row)
		}
	} else {
		for value := range coll.Column(ctx, "@this") {
			rows = append(rows, value.Value())
		}
	}

	err = coll.Err()
	if err != nil {
		return err
	}

	if rows == nil {
		rows = []any{}
	}

	return render(cmd.OutOrStdout(), s.cfg.Output, rows, columns)
}

// NewGetCommand creates the get command.
func NewGetCommand(a *app) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "get RESOURCE ID",
		Short: "Get one element of a resource",
		Long:  "Get one element of a resource by its identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseValues(flags.filters)
			if err != nil {
				return err
			}

			return a.withClient(cmd, flags.headers, func(s *session) error {
				resp, err := s.client.Get(cmd.Context(), args[0], args[1], params)
				if err != nil {
					return err
				}

				return renderResponse(cmd.OutOrStdout(), s.cfg.Output, resp, nil)
			})
		},
	}

	flags.addFilters(cmd, "param", "query parameter as key=value (repeatable)")
	flags.addHeaders(cmd)

	return cmd
}

// NewPostCommand creates the post command.
func NewPostCommand(a *app) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "post RESOURCE",
		Short: "Create an element of a resource",
		Long:  "Post a JSON body to a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := flags.readObject(cmd)
			if err != nil {
				return err
			}

			return a.withClient(cmd, flags.headers, func(s *session) error {
				resp, err := s.client.Post(cmd.Context(), args[0], data)
				if err != nil {
					return err
				}

				return renderResponse(cmd.OutOrStdout(), s.cfg.Output, resp, nil)
			})
		},
	}

	flags.addData(cmd)
	flags.addHeaders(cmd)

	return cmd
}

// NewPutCommand creates the put command.
func NewPutCommand(a *app) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "put RESOURCE ID",
		Short: "Replace an element of a resource",
		Long:  "Put a JSON body to one element of a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := flags.readObject(cmd)
			if err != nil {
				return err
			}

			return a.withClient(cmd, flags.headers, func(s *session) error {
				resp, err := s.client.Put(cmd.Context(), args[0], args[1], data)
				if err != nil {
					return err
				}

				return renderResponse(cmd.OutOrStdout(), s.cfg.Output, resp, nil)
			})
		},
	}

	flags.addData(cmd)
	flags.addHeaders(cmd)

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(a *app) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "delete RESOURCE [ID]",
		Short: "Delete an element of a resource",
		Long:  "Delete one element of a resource, or the resource itself when no ID is given",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := flags.readData(cmd)
			if err != nil {
				return err
			}

			id := ""
			if len(args) > 1 {
				id = args[1]
			}

			return a.withClient(cmd, flags.headers, func(s *session) error {
				resp, err := s.client.Delete(cmd.Context(), args[0], id, data)
				if err != nil {
					return err
				}

				return renderResponse(cmd.OutOrStdout(), s.cfg.Output, resp, nil)
			})
		},
	}

	flags.addData(cmd)
	flags.addHeaders(cmd)

	return cmd
}

// withClient runs fn with a session whose default headers include headers.
func (a *app) withClient(cmd *cobra.Command, headers []string, fn func(*session) error) error {
	extra, err := parseHeaders(headers)
	if err != nil {
		return err
	}

	s, err := a.newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(extra) > 0 {
		merged := http.Header{}
		for name, value := range s.cfg.DefaultHeaders {
			merged.Set(name, value)
		}

		for name, values := range extra {
			merged[name] = values
		}

		s.client.SetDefaultHeaders(merged)
	}

	return fn(s)
}

// parseValues parses key=value pairs.
func parseValues(pairs []string) (url.Values, error) {
	values := url.Values{}

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%w: %q", constants.ErrInvalidFilter, pair)
		}

		values.Add(key, value)
	}

	return values, nil
}

// parseHeaders parses "Name: value" pairs.
func parseHeaders(pairs []string) (http.Header, error) {
	headers := http.Header{}

	for _, pair := range pairs {
		name, value, found := strings.Cut(pair, ":")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: %q", constants.ErrInvalidHeader, pair)
		}

		headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	return headers, nil
}

// readData returns the decoded request body, or nil when none was given.
func (f *requestFlags) readData(cmd *cobra.Command) (any, error) {
	raw := []byte(f.data)
	isYAML := false

	if f.dataFile != "" {
		var err error

		raw, err = readDataFile(cmd, f.dataFile)
		if err != nil {
			return nil, err
		}

		ext := strings.ToLower(filepath.Ext(f.dataFile))
		isYAML = ext == ".yml" || ext == ".yaml"
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil //nolint:nilnil // no body
	}

	var data any

	var err error
	if isYAML {
		err = yaml.Unmarshal(raw, &data)
	} else {
		err = json.Unmarshal(raw, &data)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", constants.ErrInvalidData, err)
	}

	switch data.(type) {
	case map[string]any, []any:
		return data, nil
	default:
		return nil, constants.ErrInvalidData
	}
}

// readObject is readData defaulting to an empty object.
func (f *requestFlags) readObject(cmd *cobra.Command) (any, error) {
	data, err := f.readData(cmd)
	if err != nil || data != nil {
		return data, err
	}

	return map[string]any{}, nil
}

func readDataFile(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}

		return data, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading data file: %w", err)
	}

	return data, nil
}
