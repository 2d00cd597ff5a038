package mirror

import (
	"context"
	"os"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/openmsi/msistream/internal/bus"
	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
)

// ObjectStore mirrors completed files into an S3-compatible bucket. It is
// configured through the [s3] section of the broker config file.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore builds an object store client from the [s3] section of cfg.
// Returns nil (and no error) when the section is absent, mirroring is
// optional.
func NewObjectStore(cfg *bus.Config) (*ObjectStore, error) {
	if len(cfg.S3) == 0 {
		return nil, nil
	}

	endpoint := cfg.S3["endpoint"]
	accessKey := cfg.S3["access_key_id"]
	secretKey := cfg.S3["secret_key_id"]
	bucket := cfg.S3["bucket_name"]
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, errors.Fatal("[s3] section must set endpoint, access_key_id, secret_key_id and bucket_name")
	}

	secure := true
	if v, ok := cfg.S3["secure"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Fatalf("invalid [s3] secure value %q", v)
		}
		secure = b
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: cfg.S3["region"],
	})
	if err != nil {
		return nil, errors.Wrap(err, "minio.New")
	}

	debug.Log("object store %v, bucket %v", endpoint, bucket)
	return &ObjectStore{client: client, bucket: bucket}, nil
}

// Upload copies the file at path into the bucket under key and verifies the
// stored object's size against the local file.
func (s *ObjectStore) Upload(ctx context.Context, key, path string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "FPutObject %v", key)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "Stat")
	}

	obj, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "StatObject %v", key)
	}
	if obj.Size != fi.Size() {
		return errors.Errorf("object %v has %d bytes, local file has %d", key, obj.Size, fi.Size())
	}

	debug.Log("mirrored %v (%d bytes)", key, obj.Size)
	return nil
}
