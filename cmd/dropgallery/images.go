package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/dropgallery/core"
	"pkt.systems/dropgallery/internal/appconfig"
	"pkt.systems/dropgallery/internal/blob"
	"pkt.systems/dropgallery/internal/store"
	"pkt.systems/dropgallery/schema"
	"pkt.systems/pslog"
)

func newImagesCmd() *cobra.Command {
	var cfgPath string
	var username string
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Inspect a user's stored gallery (server must be stopped for badger)",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVarP(&username, "user", "u", "", "gallery owner")

	cmd.AddCommand(newImagesListCmd(&cfgPath, &username))
	cmd.AddCommand(newImagesExportCmd(&cfgPath, &username))
	return cmd
}

// offlineGallery opens the configured stores outside the server.
type offlineGallery struct {
	service core.Service
	store   store.Store
}

func openOfflineGallery(ctx context.Context, cfgPath string) (*offlineGallery, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := pslog.Ctx(ctx)
	gallery, err := store.Open(toStoreConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("gallery store: %w", err)
	}
	blobs, err := blob.NewStore(cfg.BlobDir(), logger)
	if err != nil {
		_ = gallery.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	service, err := core.NewService(toServiceConfig(cfg), core.ServiceDeps{
		Store:  gallery,
		Blobs:  blobs,
		Logger: logger,
	})
	if err != nil {
		_ = gallery.Close()
		return nil, err
	}
	return &offlineGallery{service: service, store: gallery}, nil
}

func (g *offlineGallery) Close() error {
	return g.store.Close()
}

func requireUser(username string) (schema.UserID, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", errors.New("--user is required")
	}
	if err := validateUsername(username); err != nil {
		return "", err
	}
	return schema.UserID(username), nil
}

func newImagesListCmd(cfgPath, username *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's images in gallery order",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser(*username)
			if err != nil {
				return err
			}
			gallery, err := openOfflineGallery(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = gallery.Close() }()
			resp, err := gallery.service.ListImages(cmd.Context(), schema.ListImagesRequest{UserID: userID})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Images)
			}
			return printImageTable(cmd.OutOrStdout(), resp.Images)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printImageTable(w io.Writer, images []schema.Image) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tID\tNICE TAG\tTAGS\tTYPE\tSIZE")
	for _, img := range images {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			img.NumberTag, img.ID, img.NiceTag, strings.Join(img.Tags, ","), img.ContentType, img.Size)
	}
	return tw.Flush()
}

func newImagesExportCmd(cfgPath, username *string) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a user's images and a manifest into a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := requireUser(*username)
			if err != nil {
				return err
			}
			if strings.TrimSpace(outDir) == "" {
				return errors.New("--out is required")
			}
			gallery, err := openOfflineGallery(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = gallery.Close() }()
			n, err := exportGallery(cmd.Context(), gallery.service, userID, outDir)
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Info("images exported", "user", userID, "count", n, "dir", outDir)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %d images to %s\n", n, outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "destination directory")
	return cmd
}

// exportGallery writes each record's bytes as <position>-<id><ext> plus a
// manifest.json holding the records in gallery order.
func exportGallery(ctx context.Context, service core.Service, userID schema.UserID, outDir string) (int, error) {
	resp, err := service.ListImages(ctx, schema.ListImagesRequest{UserID: userID})
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, err
	}
	type entry struct {
		File string `json:"file"`
		schema.Image
	}
	manifest := make([]entry, 0, len(resp.Images))
	for i, img := range resp.Images {
		name := fmt.Sprintf("%03d-%s%s", i+1, img.ID, extensionFor(img))
		if err := exportImage(ctx, service, userID, img.ID, filepath.Join(outDir, name)); err != nil {
			if errors.Is(err, schema.ErrBlobNotFound) {
				pslog.Ctx(ctx).Warn("image export skipped", "id", img.ID, "err", err)
				name = ""
			} else {
				return 0, err
			}
		}
		manifest = append(manifest, entry{File: name, Image: img})
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(filepath.Join(outDir, "manifest.json"), data, 0o644); err != nil {
		return 0, err
	}
	return len(resp.Images), nil
}

func exportImage(ctx context.Context, service core.Service, userID schema.UserID, id schema.ImageID, target string) error {
	content, err := service.OpenContent(ctx, schema.OpenContentRequest{UserID: userID, ImageID: id})
	if err != nil {
		return err
	}
	defer func() { _ = content.Content.Close() }()
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, content.Content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func extensionFor(img schema.Image) string {
	if ext := filepath.Ext(img.Name); ext != "" {
		return strings.ToLower(ext)
	}
	if img.ContentType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(img.ContentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
