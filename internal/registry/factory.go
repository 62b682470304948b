package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/roach88/hatdata/internal/schema"
	"github.com/roach88/hatdata/internal/storage"
	"github.com/roach88/hatdata/internal/storage/memory"
	"github.com/roach88/hatdata/internal/storage/s3"
	"github.com/roach88/hatdata/internal/storage/sqlite"
)

// TypeNone selects a repository without a storage medium.
const TypeNone = "none"

// AdapterFactory opens the storage medium for a schema's repository.
// A nil adapter without error means the repository lives in memory only.
type AdapterFactory func(ctx context.Context, s *schema.Schema) (storage.Adapter, error)

// DefaultFactory selects a medium by the schema's repository type:
//
//	memory (default)  in-process map
//	none              no medium
//	sqlite            options.path, default <dataDir>/<schema>.db
//	s3                options.bucket/region/prefix/endpoint/pathStyle, or
//	                  the HATDATA_S3_* environment when no bucket is set
func DefaultFactory(dataDir string) AdapterFactory {
	return func(ctx context.Context, s *schema.Schema) (storage.Adapter, error) {
		cfg := s.Repository
		switch storage.Driver(strings.ToLower(cfg.Type)) {
		case "", storage.DriverMemory:
			return memory.New(), nil
		case TypeNone:
			return nil, nil
		case storage.DriverSQLite:
			path := cfg.Option("path", filepath.Join(dataDir, s.Name+".db"))
			a, err := sqlite.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open sqlite for %s: %w", s.Name, err)
			}
			return a, nil
		case storage.DriverS3:
			bucket := cfg.Option("bucket", "")
			if bucket == "" {
				return s3.OpenFromEnv(ctx)
			}
			return s3.New(ctx, s3.Config{
				Bucket:    bucket,
				Region:    cfg.Option("region", ""),
				Prefix:    cfg.Option("prefix", ""),
				Endpoint:  cfg.Option("endpoint", ""),
				PathStyle: strings.EqualFold(cfg.Option("pathStyle", "false"), "true"),
			})
		default:
			return nil, fmt.Errorf("%w: %q for schema %s", ErrUnknownRepositoryType, cfg.Type, s.Name)
		}
	}
}
