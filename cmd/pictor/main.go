package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pictor/internal/app"
	"pictor/internal/config"
	"pictor/internal/params"
	"pictor/internal/pictor"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and wires up the application. The caller must
// defer a.Close().
func newApp(ctx context.Context) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// actorFlag returns the --actor value for mutation commands. Empty means the
// change is recorded as system-initiated.
func actorFlag(cmd *cobra.Command) string {
	actor, _ := cmd.Flags().GetString("actor")
	return actor
}

// addTransformFlags registers the derivative parameters shared by warm and url.
func addTransformFlags(cmd *cobra.Command) {
	cmd.Flags().Int("width", 0, "Maximum output width in pixels")
	cmd.Flags().Int("height", 0, "Maximum output height in pixels")
	cmd.Flags().String("format", "", "Output format (jpeg, png, webp)")
	cmd.Flags().Int("quality", 0, "Lossy encoding quality, 1-100")
	cmd.Flags().Int("page", 0, "Page of a multi-page source, 1-based")
	cmd.Flags().Float64("rotate", 0, "Clockwise rotation in degrees")
}

func transformFromFlags(cmd *cobra.Command) (params.Transform, error) {
	t := params.Default()
	t.Width, _ = cmd.Flags().GetInt("width")
	t.Height, _ = cmd.Flags().GetInt("height")
	t.Format, _ = cmd.Flags().GetString("format")
	t.Quality, _ = cmd.Flags().GetInt("quality")
	t.Page, _ = cmd.Flags().GetInt("page")
	t.Rotate, _ = cmd.Flags().GetFloat64("rotate")

	if err := t.Validate(); err != nil {
		return params.Transform{}, fmt.Errorf("invalid transform: %w", err)
	}
	return t, nil
}

var rootCmd = &cobra.Command{
	Use:   "pictor",
	Short: "Media library catalog and derivative cache",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init MEDIA_ROOT",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		mediaRoot, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving media root: %w", err)
		}

		cfg := config.NewConfig(mediaRoot, defaults["data_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Media Root: %s\n", mediaRoot)
		fmt.Printf("Data Dir:   %s\n", defaults["data_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Media Root: %s\n", cfg.MediaRoot)
		fmt.Printf("Database:   %s", cfg.Database.Type)
		if cfg.Database.Path != "" {
			fmt.Printf(" (%s)", cfg.Database.Path)
		}
		fmt.Println()
		fmt.Printf("Cache Dir:  %s\n", cfg.Cache.Dir)
		fmt.Printf("Blobs:      %s\n", cfg.Cache.Blob.Type)
		fmt.Printf("Queue:      %s\n", cfg.Queue.Type)
		fmt.Printf("Renderer:   %s\n", cfg.Renderer.Type)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply catalog schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		if err := app.Migrate(cfg); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}

		fmt.Println("Catalog schema is up to date.")
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync [PATH]",
	Short: "Reconcile the catalog with the filesystem",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		target := "/"
		if len(args) > 0 {
			target = args[0]
		}

		report, err := a.Sync(cmd.Context(), target, force)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Printf("Synced %d image(s) in %d folder(s)\n", report.Images, report.Folders)
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folders, _ := cmd.Flags().GetBool("folders")
		sortBy, _ := cmd.Flags().GetString("sort")
		reverse, _ := cmd.Flags().GetBool("reverse")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		target := "/"
		if len(args) > 0 {
			target = args[0]
		}

		entries, err := a.List(cmd.Context(), target, pictor.ListOptions{
			IncludeFolders: folders,
			Sort:           pictor.SortMode(sortBy),
			Reverse:        reverse,
			Offset:         offset,
			Limit:          limit,
		})
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("Empty folder.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Name", "Size", "Modified"})
		for _, e := range entries {
			size := humanize.Bytes(uint64(e.Size))
			if e.IsDir {
				size = "-"
			}
			table.Append([]string{e.Name, size, humanize.Time(e.ModTime)})
		}
		table.Render()
		return nil
	},
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		folder, err := a.MkDir(cmd.Context(), args[0], actorFlag(cmd))
		if err != nil {
			return err
		}

		fmt.Printf("Created folder %s\n", folder.Path)
		return nil
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv SRC DST",
	Short: "Move a file or folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Move(cmd.Context(), args[0], args[1], actorFlag(cmd)); err != nil {
			return err
		}

		fmt.Printf("Moved %s to %s\n", args[0], args[1])
		return nil
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Remove an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		img, err := a.Remove(cmd.Context(), args[0], actorFlag(cmd))
		if err != nil {
			return err
		}

		fmt.Printf("Removed %s\n", img.Src)
		return nil
	},
}

// rmdir command
var rmdirCmd = &cobra.Command{
	Use:   "rmdir PATH",
	Short: "Remove a folder and its contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		folder, err := a.RemoveDir(cmd.Context(), args[0], actorFlag(cmd))
		if err != nil {
			return err
		}

		fmt.Printf("Removed folder %s\n", folder.Path)
		return nil
	},
}

// purge command
var purgeCmd = &cobra.Command{
	Use:   "purge [PATH]",
	Short: "Drop deleted records from the catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		target := "/"
		if len(args) > 0 {
			target = args[0]
		}

		purged, err := a.Purge(cmd.Context(), target)
		if err != nil {
			return err
		}

		fmt.Printf("Purged %d record(s)\n", purged)
		return nil
	},
}

// warm command
var warmCmd = &cobra.Command{
	Use:   "warm PATH",
	Short: "Render a derivative into the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := transformFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		entry, err := a.Warm(cmd.Context(), args[0], t)
		if err != nil {
			return err
		}

		fmt.Printf("Warmed %s: %dx%d %s, %s\n",
			args[0], entry.Width, entry.Height, entry.Format,
			humanize.Bytes(uint64(entry.Size)))
		return nil
	},
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate the derivative cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "View cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.CacheStats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Entries:     %d\n", stats.Entries)
		fmt.Printf("Total size:  %s\n", humanize.Bytes(uint64(stats.Bytes)))
		fmt.Printf("Hot entries: %d\n", stats.HotEntries)
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [PATH]",
	Short: "Drop cached derivatives",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("provide a path or --all")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		src := ""
		if len(args) > 0 {
			src = args[0]
		}

		removed, err := a.CacheInvalidate(cmd.Context(), src, all)
		if err != nil {
			return err
		}

		fmt.Printf("Invalidated %d derivative(s)\n", removed)
		return nil
	},
}

// tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "View background tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.Tasks(cmd.Context())
		if err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks recorded.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Name", "Status", "Enqueued", "Error"})
		for _, task := range tasks {
			table.Append([]string{
				task.ID[:12],
				task.Name,
				string(task.Status),
				humanize.Time(task.EnqueuedAt),
				task.Error,
			})
		}
		table.Render()
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history PATH",
	Short: "View an image's change history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.History(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			fmt.Println("No history recorded.")
			return nil
		}

		for _, h := range rows {
			actor := "system"
			if h.Actor != nil {
				actor = *h.Actor
			}
			fmt.Printf("%s  %-8s  %-12s  %s\n",
				h.CreatedAt.Format("2006-01-02 15:04:05"),
				h.Action,
				actor,
				h.Info,
			)
		}
		return nil
	},
}

// url command
var urlCmd = &cobra.Command{
	Use:   "url PATH",
	Short: "Produce a signed derivative URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")

		t, err := transformFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		url, err := a.SignedURL(cmd.Context(), args[0], t, ttl)
		if err != nil {
			return err
		}

		fmt.Println(url)
		return nil
	},
}

// edit command
var editCmd = &cobra.Command{
	Use:   "edit PATH",
	Short: "Edit image metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var title, description *string
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			description = &v
		}
		if title == nil && description == nil {
			return fmt.Errorf("provide --title or --description")
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		img, err := a.Edit(cmd.Context(), args[0], title, description, actorFlag(cmd))
		if err != nil {
			return err
		}

		fmt.Printf("Updated %s\n", img.Src)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the media root and sync changes as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", a.Config().MediaRoot)

		if err := a.Watch(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("actor", "", "Actor recorded in history and checked against permissions")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolP("force", "f", false, "Probe and re-burst unchanged files")
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().Bool("folders", false, "Include subfolders")
	lsCmd.Flags().String("sort", "name", "Sort by name, mtime, or size")
	lsCmd.Flags().Bool("reverse", false, "Reverse the sort order")
	lsCmd.Flags().IntP("limit", "n", 0, "Maximum entries to show (0 shows all)")
	lsCmd.Flags().Int("offset", 0, "Entries to skip")
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(rmdirCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(warmCmd)
	addTransformFlags(warmCmd)
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheInvalidateCmd.Flags().Bool("all", false, "Drop every cached derivative")
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum entries to show")
	rootCmd.AddCommand(urlCmd)
	addTransformFlags(urlCmd)
	urlCmd.Flags().Duration("ttl", time.Hour, "Signed URL lifetime")
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().String("description", "", "New description")
	rootCmd.AddCommand(watchCmd)
}
