package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/entrypoint"
	"github.com/sunr3d/site-mover/internal/logger"
)

const closeTimeout = 30 * time.Second

type cli struct {
	envFile string
	cfg     *config.Config
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:               "sitemover",
		Short:             "Перенос сайта между окружениями: экспорт, импорт, снимки и откат",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "файл с переменными окружения")

	root.AddCommand(
		c.serveCmd(),
		c.exportCmd(),
		c.importCmd(),
		c.snapshotCmd(),
		c.sweepCmd(),
	)
	return root
}

// setup loads the env file, then the config. A missing default .env is fine;
// a missing file passed explicitly is not.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(c.envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flag("env-file").Changed {
			return fmt.Errorf("не удалось загрузить %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	c.cfg, c.log = cfg, log
	return nil
}

func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *entrypoint.App) error) (err error) {
	ctx := cmd.Context()
	app, err := entrypoint.New(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if closeErr := app.Close(closeCtx); closeErr != nil {
			c.log.Error("ошибка при остановке приложения", zap.Error(closeErr))
			if err == nil {
				err = closeErr
			}
		}
		c.log.Sync()
	}()
	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
