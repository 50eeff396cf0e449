package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lychee-technology/resource"
	"github.com/lychee-technology/resource/factory"
	"github.com/lychee-technology/resource/internal"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "resctl",
		Short: "Inspect catalogs and enumerate remote resources",
		Long: color.CyanString(`resctl - remote resource catalogs and lists

Describes entity kinds from catalog files, validates catalog files and
enumerates lists of resources served by the configured Postgres or DuckDB
collaborators, optionally exporting them as S3 snapshots.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./resource.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newDescribeCommand(opts))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newListCommand(opts))
	rootCmd.AddCommand(newExportCommand(opts))
	rootCmd.AddCommand(newHealthCommand(opts))
	return rootCmd
}

func (o *rootOptions) load() (*resource.Config, func(), error) {
	cfg, err := factory.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := setupLogger(cfg.Logging, o.verbose)
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() { _ = logger.Sync() }, nil
}

func newDescribeCommand(opts *rootOptions) *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "describe [kind...]",
		Short: "Describe the attributes, selections and sorts of entity kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sync, err := opts.load()
			if err != nil {
				return err
			}
			defer sync()
			catalogs, err := factory.NewCatalogRegistry(cfg)
			if err != nil {
				return err
			}
			kinds := args
			if len(kinds) == 0 {
				kinds = catalogs.ListKinds()
			}
			lvl := resource.LevelAny
			if level > 0 {
				lvl = resource.Level(level)
			}
			for _, kind := range kinds {
				reg, err := catalogs.Catalog(kind)
				if err != nil {
					return err
				}
				describeKind(cmd.OutOrStdout(), reg, lvl)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "only attributes available at this remote level")
	return cmd
}

func describeKind(w io.Writer, reg resource.MetadataRegistry, level resource.Level) {
	titleColor := color.New(color.FgCyan, color.Bold)
	titleColor.Fprintf(w, "%s", reg.Kind())
	fmt.Fprintf(w, " (key: %s)\n", joinIDs(reg.KeyAttributes()))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tID\tKIND\tFLAGS\tGET\tSET")
	sections := []struct {
		class resource.DescriptorClass
		descs []resource.Descriptor
	}{
		{resource.ClassAttribute, reg.Describe(level)},
		{resource.ClassSelection, reg.Descriptors(resource.ClassSelection)},
		{resource.ClassSort, reg.Descriptors(resource.ClassSort)},
	}
	for _, s := range sections {
		for _, d := range s.descs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.class, d.ID, d.Kind, flags(d), d.GetOperation, d.SetOperation)
		}
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func flags(d resource.Descriptor) string {
	var out []string
	if d.ReadOnly {
		out = append(out, "ro")
	}
	if d.Array {
		out = append(out, "array")
	}
	if d.Closed() {
		out = append(out, fmt.Sprintf("legal=%v", d.LegalValues))
	}
	if d.MinLevel > 0 {
		out = append(out, fmt.Sprintf("level>=%d", d.MinLevel))
	}
	return strings.Join(out, ",")
}

func joinIDs(ids []resource.AttributeID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = string(id)
	}
	return strings.Join(s, ",")
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-catalog <file|dir>...",
		Short: "Validate catalog files against the catalog schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			successColor := color.New(color.FgGreen, color.Bold)
			errorColor := color.New(color.FgRed, color.Bold)
			out := cmd.OutOrStdout()

			files, err := catalogFiles(args)
			if err != nil {
				return err
			}
			failed := 0
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err == nil {
					_, err = internal.ParseCatalog(data)
				}
				if err != nil {
					failed++
					errorColor.Fprint(out, "✗ ")
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}
				successColor.Fprint(out, "✓ ")
				fmt.Fprintln(out, path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d catalog files are invalid", failed, len(files))
			}
			return nil
		},
	}
}

func catalogFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*"+internal.CatalogFileSuffix))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

// listOptions are the criteria shared by list and export.
type listOptions struct {
	backend string
	where   []string
	sort    string
	attrs   []string
	limit   int
}

func (o *listOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.backend, "backend", "postgres", "collaborator backend: postgres or duckdb")
	cmd.Flags().StringArrayVarP(&o.where, "where", "w", nil, "selection ID=value, repeatable")
	cmd.Flags().StringVarP(&o.sort, "sort", "s", "", "sort keys ID[:desc],...")
}

// openList builds an engine for the backend and opens a list of kind with
// the criteria applied.
func openList(ctx context.Context, cfg *resource.Config, kind string, o *listOptions) (*factory.Engine, resource.ResourceList, error) {
	catalogs, err := factory.NewCatalogRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}
	engine := factory.NewEngine(catalogs, cfg)
	if err := wireBackend(ctx, engine, cfg, o.backend); err != nil {
		engine.Close()
		return nil, nil, err
	}

	list, err := engine.NewResourceList(kind)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}
	reg, _ := catalogs.Catalog(kind)
	if err := applyCriteria(list, reg, o.where, o.sort); err != nil {
		engine.Close()
		return nil, nil, err
	}
	if err := list.Open(ctx); err != nil {
		engine.Close()
		return nil, nil, err
	}
	engine.AddCloser(func() error { return list.Close(context.Background()) })
	return engine, list, nil
}

func wireBackend(ctx context.Context, engine *factory.Engine, cfg *resource.Config, backend string) error {
	if cfg.Redis.Enabled {
		if _, err := factory.NewRedisCache(ctx, engine, cfg.Redis); err != nil {
			return err
		}
	}
	switch backend {
	case "postgres":
		pool, err := factory.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		engine.AddCloser(func() error { pool.Close(); return nil })
		return factory.RegisterPostgres(engine, pool, cfg.Postgres)
	case "duckdb":
		client, err := factory.NewDuckDBClient(ctx, engine, cfg.DuckDB)
		if err != nil {
			return err
		}
		return factory.RegisterDuckDB(engine, client, cfg.DuckDB)
	}
	return fmt.Errorf("unknown backend %q", backend)
}

func applyCriteria(list resource.ResourceList, reg resource.MetadataRegistry, where []string, sort string) error {
	for _, w := range where {
		id, raw, ok := strings.Cut(w, "=")
		if !ok {
			return fmt.Errorf("selection %q must be ID=value", w)
		}
		d, found := reg.Lookup(resource.ClassSelection, resource.AttributeID(id))
		if !found {
			return resource.NewUnknownAttributeError(resource.ClassSelection, resource.AttributeID(id)).WithKind(reg.Kind())
		}
		value, err := parseValue(d, raw)
		if err != nil {
			return err
		}
		if err := list.SetSelection(d.ID, value); err != nil {
			return err
		}
	}
	if sort == "" {
		return nil
	}
	spec, err := parseSort(sort)
	if err != nil {
		return err
	}
	return list.SetSort(spec)
}

func newListCommand(opts *rootOptions) *cobra.Command {
	lo := &listOptions{}
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "Enumerate resources of a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sync, err := opts.load()
			if err != nil {
				return err
			}
			defer sync()
			ctx := cmd.Context()
			engine, list, err := openList(ctx, cfg, args[0], lo)
			if err != nil {
				return err
			}
			defer engine.Close()
			reg, err := engine.Catalogs().Catalog(list.Kind())
			if err != nil {
				return err
			}
			return printList(ctx, cmd.OutOrStdout(), list, reg.KeyAttributes(), lo)
		},
	}
	lo.bind(cmd)
	cmd.Flags().StringSliceVarP(&lo.attrs, "attrs", "a", nil, "attributes to read per resource")
	cmd.Flags().IntVarP(&lo.limit, "limit", "n", 0, "stop after n resources (0 = all)")
	return cmd
}

func printList(ctx context.Context, w io.Writer, list resource.ResourceList, keys []resource.AttributeID, o *listOptions) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := []string{"#", "KEY"}
	header = append(header, o.attrs...)
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	n := 0
	for ; o.limit <= 0 || n < o.limit; n++ {
		if err := list.WaitFor(ctx, n); err != nil {
			tw.Flush()
			return err
		}
		r := list.At(n)
		if r == nil {
			break
		}
		id, err := r.Identity()
		if err != nil {
			return err
		}
		row := []string{fmt.Sprint(n), formatProperties(keys, id.Properties)}
		for _, a := range o.attrs {
			v, err := r.Get(ctx, resource.AttributeID(a))
			if err != nil {
				zap.S().Debugw("attribute read failed", "resource", id.String(), "attribute", a, "error", err)
				row = append(row, color.RedString("!%s", errorCode(err)))
				continue
			}
			row = append(row, fmt.Sprint(v))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	color.New(color.FgCyan).Fprintf(w, "%d resources (%s)\n", n, list.State())
	return nil
}

// formatProperties renders identity properties as ID=value pairs in key order.
func formatProperties(keys []resource.AttributeID, props map[resource.AttributeID]any) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, props[k]))
	}
	return strings.Join(parts, ",")
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	lo := &listOptions{}
	cmd := &cobra.Command{
		Use:   "export <kind>",
		Short: "Load a complete list and export it as an S3 snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sync, err := opts.load()
			if err != nil {
				return err
			}
			defer sync()
			ctx := cmd.Context()
			exporter, err := factory.NewSnapshotExporter(ctx, cfg.Snapshot)
			if err != nil {
				return err
			}
			engine, list, err := openList(ctx, cfg, args[0], lo)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := list.WaitForComplete(ctx); err != nil {
				return err
			}
			key, err := exporter.Export(ctx, list.Kind(), list.Resources())
			if err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d resources to s3://%s/%s\n", list.Length(), cfg.Snapshot.Bucket, key)
			return nil
		},
	}
	lo.bind(cmd)
	return cmd
}

func errorCode(err error) string {
	var re *resource.Error
	if errors.As(err, &re) && re.Code != "" {
		return re.Code
	}
	return "ERROR"
}

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the configured collaborators, cache and snapshot bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sync, err := opts.load()
			if err != nil {
				return err
			}
			defer sync()
			ctx := cmd.Context()
			engine := factory.NewEngine(nil, cfg)
			defer engine.Close()

			checks := []struct {
				name    string
				enabled bool
				run     func() error
			}{
				{"postgres", len(cfg.Postgres.Tables) > 0, func() error {
					pool, err := factory.NewPostgresPool(ctx, cfg.Postgres)
					if err == nil {
						pool.Close()
					}
					return err
				}},
				{"duckdb", cfg.DuckDB.Enabled, func() error {
					client, err := factory.NewDuckDBClient(ctx, engine, cfg.DuckDB)
					if err != nil {
						return err
					}
					return client.HealthCheck(ctx)
				}},
				{"redis", cfg.Redis.Enabled, func() error {
					client, err := internal.NewRedisClient(ctx, cfg.Redis)
					if err == nil {
						client.Close()
					}
					return err
				}},
				{"snapshot bucket", cfg.Snapshot.Enabled, func() error {
					client, err := factory.NewS3Client(ctx, cfg.Snapshot)
					if err != nil {
						return err
					}
					return internal.S3HealthCheck(ctx, client, cfg.Snapshot.Bucket, 0)
				}},
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, c := range checks {
				if !c.enabled {
					color.New(color.FgYellow).Fprint(out, "- ")
					fmt.Fprintf(out, "%s: not configured\n", c.name)
					continue
				}
				if err := c.run(); err != nil {
					failed++
					color.New(color.FgRed, color.Bold).Fprint(out, "✗ ")
					fmt.Fprintf(out, "%s: %v\n", c.name, err)
					continue
				}
				color.New(color.FgGreen, color.Bold).Fprint(out, "✓ ")
				fmt.Fprintln(out, c.name)
			}
			if failed > 0 {
				return fmt.Errorf("%d health checks failed", failed)
			}
			return nil
		},
	}
}
