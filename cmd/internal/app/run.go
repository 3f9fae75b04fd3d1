package app

import (
	"context"
	"errors"
	"fmt"

	boardpg "hub/cmd/internal/board/postgres"
	"hub/cmd/internal/export"
	"hub/cmd/internal/migrations"
)

// Serve loads configuration, builds the App and runs it until ctx ends.
// It returns an error instead of calling os.Exit to keep defers effective.
func Serve(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}

// Migrate applies pending schema migrations and reports the resulting version.
func Migrate(ctx context.Context, configPath string) (uint, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return 0, err
	}
	if cfg.DatabaseURL == "" {
		return 0, errors.New("migrate: HUB_DATABASE_URL is not set")
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := boardpg.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	if err := migrations.Up(ctx, db, cfg.DBSchema); err != nil {
		return 0, err
	}
	v, dirty, err := migrations.Version(ctx, db, cfg.DBSchema)
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("migrate: schema %s is dirty at version %d", cfg.DBSchema, v)
	}
	log.Info("db.migrate.done", "schema", cfg.DBSchema, "version", v)
	return v, nil
}

// ExportOnce writes one board snapshot. Non-empty fields of dest override the
// HUB_EXPORT_* settings.
func ExportOnce(ctx context.Context, configPath string, dest export.S3Config) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("export: HUB_DATABASE_URL is not set")
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	s3cfg := export.S3Config{
		Bucket:   firstNonEmpty(dest.Bucket, cfg.ExportBucket),
		Key:      firstNonEmpty(dest.Key, cfg.ExportKey),
		Region:   firstNonEmpty(dest.Region, cfg.ExportRegion),
		Endpoint: firstNonEmpty(dest.Endpoint, cfg.ExportEndpoint),
	}
	if s3cfg.Bucket == "" {
		return errors.New("export: no bucket configured")
	}

	db, err := boardpg.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := boardpg.New(db, cfg.DBSchema)
	if err != nil {
		return err
	}

	d, err := export.NewS3Destination(ctx, s3cfg)
	if err != nil {
		return err
	}
	return export.NewScheduler(store, []export.Destination{d}, 0, log).Once(ctx)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
