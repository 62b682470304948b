package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/roach88/hatdata/internal/storage"
	"github.com/roach88/hatdata/internal/storage/s3"
	"github.com/roach88/hatdata/internal/storage/sqlite"
)

// parseS3Target splits "s3://bucket/prefix" into bucket and key prefix. The
// prefix always ends with "/" when present.
func parseS3Target(target string) (bucket, prefix string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", target, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 target %q: want s3://bucket[/prefix]", target)
	}
	prefix = strings.Trim(u.Path, "/")
	if prefix != "" {
		prefix += "/"
	}
	return u.Host, prefix, nil
}

// openMedium opens a storage medium named by target: an s3:// URL, whose
// region, endpoint and path style come from the HATDATA_S3_* environment,
// or a SQLite file path.
func openMedium(ctx context.Context, target string) (storage.Adapter, error) {
	if strings.HasPrefix(target, "s3://") {
		bucket, prefix, err := parseS3Target(target)
		if err != nil {
			return nil, err
		}
		return s3.New(ctx, s3.Config{
			Bucket:    bucket,
			Prefix:    prefix,
			Region:    os.Getenv("HATDATA_S3_REGION"),
			Endpoint:  os.Getenv("HATDATA_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("HATDATA_S3_PATH_STYLE"), "true"),
		})
	}
	a, err := sqlite.Open(target)
	if err != nil {
		return nil, err
	}
	return a, nil
}
