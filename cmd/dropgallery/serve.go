package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/dropgallery"
	"pkt.systems/dropgallery/httpapi"
	"pkt.systems/dropgallery/internal/appconfig"
	"pkt.systems/dropgallery/internal/store"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

const stopTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var cfgPath string
	var addr string
	var noMetrics bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gallery web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if noMetrics {
				cfg.Metrics.Enabled = false
			}
			serverCfg := toServerConfig(cfg)
			logger.Info("gallery storage selected", "driver", serverCfg.Storage.Driver, "path", serverCfg.Storage.Path, "blobs", serverCfg.BlobDir)
			logger.Info("gallery auth selected", "mode", serverCfg.Auth.Mode)

			var opts []dropgallery.ServerOption
			if cfg.Metrics.Enabled {
				opts = append(opts, dropgallery.WithMetrics())
			}
			server, err := dropgallery.New(serverCfg, dropgallery.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "override http.addr")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "disable the /metrics endpoint")
	return cmd
}

func toServerConfig(cfg appconfig.Config) dropgallery.ServerConfig {
	return dropgallery.ServerConfig{
		Service:    toServiceConfig(cfg),
		HTTP:       toHTTPConfig(cfg.HTTP),
		Auth:       toAuthConfig(cfg.Auth),
		Storage:    toStoreConfig(cfg),
		BlobDir:    cfg.BlobDir(),
		HubHistory: 1000,
	}
}

func toServiceConfig(cfg appconfig.Config) schema.ServiceConfig {
	return schema.ServiceConfig{
		UploadDelay:    cfg.UploadDelay(),
		MaxUploadFiles: cfg.Gallery.MaxUploadFiles,
	}
}

func toStoreConfig(cfg appconfig.Config) store.Config {
	return store.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.StoragePath(),
	}
}

func toHTTPConfig(cfg appconfig.HTTPConfig) httpapi.Config {
	return httpapi.Config{
		Addr:            cfg.Addr,
		SessionCookie:   cfg.SessionCookie,
		SessionTTLHours: cfg.SessionTTLHours,
		BaseURL:         cfg.BaseURL,
		BasePath:        cfg.BasePath,
		MaxUploadMB:     cfg.MaxUploadMB,
	}
}

func toAuthConfig(cfg appconfig.AuthConfig) dropgallery.AuthConfig {
	seeds := make([]dropgallery.SeedUser, 0, len(cfg.SeedUsers))
	for _, seed := range cfg.SeedUsers {
		seeds = append(seeds, dropgallery.SeedUser{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
		})
	}
	return dropgallery.AuthConfig{
		Mode:      cfg.Mode,
		Username:  cfg.Username,
		Password:  cfg.Password,
		UserFile:  cfg.UserFile,
		SeedUsers: seeds,
	}
}
