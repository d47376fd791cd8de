package cli

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/crossfield/ssobroker/pkg/export"
	"github.com/crossfield/ssobroker/pkg/observability"
	"github.com/crossfield/ssobroker/pkg/storage"
)

func newExportCommand() *Command {
	cmd := &Command{
		Name:        "export",
		Description: "Export the full user population as CSV",
		Flags:       flag.NewFlagSet("export", flag.ExitOnError),
	}

	out := cmd.Flags.String("out", "users.csv", "Output file, or - for stdout")
	upload := cmd.Flags.Bool("upload", false, "Upload to the configured S3 bucket instead of writing a file")
	sf := addStorageFlags(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		logger := sf.logger()
		ctx := context.Background()

		store, err := sf.open()
		if err != nil {
			return err
		}
		defer store.Close()

		exporter := export.NewExporter(store, observability.NewLogger(observability.WarnLevel, os.Stderr))

		if *upload {
			cfg := s3ConfigFromEnv()
			if cfg.S3Bucket == "" {
				return fmt.Errorf("SSOB_S3_BUCKET is required for --upload")
			}
			uploader, err := export.NewS3Uploader(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize S3 uploader: %w", err)
			}

			var buf bytes.Buffer
			rows, err := exporter.WriteCSV(ctx, &buf)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			key := export.ObjectKey(time.Now())
			if err := uploader.Upload(ctx, key, buf.Bytes()); err != nil {
				return err
			}
			logger.Infof("Uploaded %d users to s3://%s/%s", rows, cfg.S3Bucket, key)
			return nil
		}

		w := os.Stdout
		if *out != "-" {
			f, err := os.Create(*out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", *out, err)
			}
			defer f.Close()
			w = f
		}

		rows, err := exporter.WriteCSV(ctx, w)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		if *out != "-" {
			logger.Infof("Wrote %d users to %s", rows, *out)
		}
		return nil
	}

	return cmd
}

// s3ConfigFromEnv reads the broker's S3 settings for uploads.
func s3ConfigFromEnv() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.S3Endpoint = getEnv("SSOB_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("SSOB_S3_REGION", "")
	cfg.S3Bucket = getEnv("SSOB_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("SSOB_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("SSOB_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnv("SSOB_S3_USE_PATH_STYLE", "") == "true"
	return cfg
}
