package artifacts

import (
	"context"
	"errors"
	"fmt"
)

// Backend names an archive storage backend.
type Backend string

const (
	BackendNone Backend = "none"
	BackendFS   Backend = "fs"
	BackendS3   Backend = "s3"
	BackendGCS  Backend = "gcs"
)

// Options selects and configures a backend.
type Options struct {
	Backend  Backend
	Dir      string
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// ErrDisabled is returned by Open for BackendNone.
var ErrDisabled = errors.New("artifacts: archive disabled")

// Open returns the configured store.
func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Backend {
	case BackendNone, "":
		return nil, ErrDisabled
	case BackendFS:
		if o.Dir == "" {
			return nil, errors.New("artifacts: fs archive needs a directory")
		}
		return NewFileStore(o.Dir)
	case BackendS3:
		if o.Bucket == "" {
			return nil, errors.New("artifacts: s3 archive needs a bucket")
		}
		region := o.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{Bucket: o.Bucket, Region: region, Endpoint: o.Endpoint, Prefix: o.Prefix})
	case BackendGCS:
		if o.Bucket == "" {
			return nil, errors.New("artifacts: gcs archive needs a bucket")
		}
		return NewGCSStore(ctx, GCSStoreConfig{Bucket: o.Bucket, Prefix: o.Prefix})
	}
	return nil, fmt.Errorf("unsupported archive backend: %s", o.Backend)
}
