package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sunr3d/site-mover/internal/entrypoint"
	"github.com/sunr3d/site-mover/models"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP сервер и плановую очистку",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer c.log.Sync()
			return entrypoint.Run(cmd.Context(), c.cfg, c.log)
		},
	}
}

type contentFlags struct {
	uploads bool
	plugins bool
	themes  bool
}

func (f *contentFlags) register(cmd *cobra.Command, uploadsDefault bool) {
	cmd.Flags().BoolVar(&f.uploads, "uploads", uploadsDefault, "включить загруженные файлы")
	cmd.Flags().BoolVar(&f.plugins, "plugins", false, "включить плагины")
	cmd.Flags().BoolVar(&f.themes, "themes", false, "включить темы")
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		content contentFlags
		out     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Выгрузить сайт в архив",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				res, err := app.Exporter.Export(ctx, models.ExportOptions{
					IncludeUploads: content.uploads,
					IncludePlugins: content.plugins,
					IncludeThemes:  content.themes,
					TargetPath:     out,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	content.register(cmd, true)
	cmd.Flags().StringVarP(&out, "out", "o", "", "путь к архиву (по умолчанию в DATA_DIR/exports)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var (
		planFile      string
		actingUser    string
		noSnapshot    bool
		deleteArchive bool
	)
	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Применить архив к сайту",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.ImportRequest{
				ArchivePath:   args[0],
				ActingUser:    actingUser,
				SkipSnapshot:  noSnapshot,
				DeleteArchive: deleteArchive,
			}
			if planFile != "" {
				plan, err := loadPlan(planFile)
				if err != nil {
					return err
				}
				req.MergePlan = plan
			}

			return c.withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				res, err := app.Importer.Import(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&planFile, "plan", "", "YAML файл плана слияния пользователей")
	cmd.Flags().StringVar(&actingUser, "acting-user", "", "email администратора, выполняющего импорт")
	cmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "не делать снимок перед импортом")
	cmd.Flags().BoolVar(&deleteArchive, "delete-archive", false, "удалить архив после успешного импорта")
	return cmd
}

// loadPlan reads a merge plan: a mapping of email to {import, mode}.
func loadPlan(path string) (models.MergePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать план слияния: %w", err)
	}
	var plan models.MergePlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("некорректный план слияния %s: %w", path, err)
	}
	return plan, nil
}

func (c *cli) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Управление снимками сайта",
	}

	var (
		content contentFlags
		label   string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Создать снимок",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				snap, err := app.Snapshots.Create(ctx, models.SnapshotOptions{
					Label:          label,
					IncludeUploads: content.uploads,
					IncludePlugins: content.plugins,
					IncludeThemes:  content.themes,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, snap)
			})
		},
	}
	content.register(create, false)
	create.Flags().StringVar(&label, "label", "", "подпись снимка")

	list := &cobra.Command{
		Use:   "list",
		Short: "Список снимков",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				snaps, err := app.Snapshots.List(ctx)
				if err != nil {
					return err
				}
				if snaps == nil {
					snaps = []*models.Snapshot{}
				}
				return printJSON(cmd, snaps)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Удалить снимок",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				return app.Snapshots.Delete(ctx, args[0])
			})
		},
	}

	restore := &cobra.Command{
		Use:   "restore <id>",
		Short: "Восстановить сайт из снимка",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				return app.Snapshots.Restore(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(create, list, del, restore)
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Выполнить очистку один раз",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *entrypoint.App) error {
				report, err := app.Sweeper.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
}
