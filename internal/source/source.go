// Package source ties granule metadata to the transfer machinery. A source
// knows how the assets of its products are laid out on disk and which
// downloader and authenticator move them.
package source

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/links-ads/satctl/internal/auth"
	"github.com/links-ads/satctl/internal/config"
	"github.com/links-ads/satctl/internal/download"
	"github.com/links-ads/satctl/internal/event"
	"github.com/links-ads/satctl/internal/fs"
	"github.com/links-ads/satctl/internal/granule"
	"github.com/links-ads/satctl/internal/registry"
	"go.uber.org/zap"
)

// Source downloads the items of one product collection.
type Source interface {
	// Name returns the configured source name
	Name() string

	// DownloadItem fetches every asset of item into destDir and persists
	// the metadata sidecar once all required assets are in place.
	DownloadItem(ctx context.Context, item *granule.Granule, destDir string) error
}

// AssetSource is the generic Source implementation: every asset of a
// granule is streamed through the configured downloader into
// destDir/<granule id>/, optionally extracting archive assets in place.
type AssetSource struct {
	name            string
	description     string
	downloader      download.Downloader
	extractArchives bool
	sink            event.Sink
	logger          *zap.Logger
}

// New creates a source from its configuration section.
func New(name string, cfg config.SourceConfig, downloader download.Downloader, sink event.Sink, logger *zap.Logger) *AssetSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetSource{
		name:            name,
		description:     cfg.Description,
		downloader:      downloader,
		extractArchives: cfg.ExtractArchives,
		sink:            event.OrDiscard(sink),
		logger:          logger,
	}
}

// Build assembles a configured source end to end: authenticator, downloader
// and the asset wrapper around them.
func Build(name string, cfg *config.Config, authRegistry *registry.Registry[auth.Factory], downloadRegistry *registry.Registry[download.Factory], sink event.Sink, logger *zap.Logger) (*AssetSource, error) {
	srcCfg, ok := cfg.Sources[name]
	if !ok {
		return nil, fmt.Errorf("source %q is not configured", name)
	}

	authFactory, err := authRegistry.Get(srcCfg.Auth)
	if err != nil {
		return nil, err
	}
	authenticator, err := authFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build authenticator for source %s: %w", name, err)
	}

	downloadFactory, err := downloadRegistry.Get(srcCfg.Downloader)
	if err != nil {
		return nil, err
	}
	downloader, err := downloadFactory(authenticator, download.OptionsFromConfig(cfg), sink, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build downloader for source %s: %w", name, err)
	}

	return New(name, srcCfg, downloader, sink, logger), nil
}

// Name returns the configured source name
func (s *AssetSource) Name() string {
	return s.name
}

// Description returns the human-readable source description
func (s *AssetSource) Description() string {
	return s.description
}

// Downloader exposes the underlying downloader so the orchestrator can
// manage its lifecycle.
func (s *AssetSource) Downloader() download.Downloader {
	return s.downloader
}

// DownloadItem fetches every asset of item into destDir/<granule id>. A
// failed required asset fails the item but does not abort the remaining
// assets; optional assets never fail the item. The metadata sidecar is
// written only when every required asset landed.
func (s *AssetSource) DownloadItem(ctx context.Context, item *granule.Granule, destDir string) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid granule: %w", err)
	}

	itemDir := filepath.Join(destDir, item.ID)
	if err := fs.EnsureDir(itemDir); err != nil {
		return err
	}

	var failed []string
	for _, name := range sortedAssetNames(item.Assets) {
		asset := item.Assets[name]
		target := assetTarget(itemDir, name, asset)
		itemID := item.ID + "/" + name

		if err := s.downloader.Download(ctx, asset.Href, target, itemID); err != nil {
			if asset.Optional {
				s.logger.Debug("optional asset skipped",
					zap.String("granule", item.ID), zap.String("asset", name), zap.Error(err))
				continue
			}
			s.logger.Warn("failed to download asset",
				zap.String("granule", item.ID), zap.String("asset", name), zap.Error(err))
			failed = append(failed, name)
			continue
		}

		if s.extractArchives && isArchive(asset, target) {
			if _, err := fs.ExtractZip(target, itemDir, itemID, "", s.sink); err != nil {
				s.logger.Warn("failed to extract asset",
					zap.String("granule", item.ID), zap.String("asset", name), zap.Error(err))
				failed = append(failed, name)
			}
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to download assets %s for granule %s", strings.Join(failed, ", "), item.ID)
	}

	item.LocalPath = itemDir
	s.logger.Debug("saving granule metadata", zap.String("path", itemDir))
	if err := item.Save(itemDir); err != nil {
		return err
	}
	return nil
}

// assetTarget resolves where an asset lands inside the granule directory.
func assetTarget(itemDir, name string, asset granule.Asset) string {
	if asset.Path != "" {
		return filepath.Join(itemDir, filepath.FromSlash(asset.Path))
	}
	return filepath.Join(itemDir, name+path.Ext(asset.Href))
}

func isArchive(asset granule.Asset, target string) bool {
	return asset.MediaType == "application/zip" || strings.HasSuffix(target, ".zip")
}

func sortedAssetNames(assets map[string]granule.Asset) []string {
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
