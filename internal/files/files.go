package files

import (
	"context"
	"io"
	"path"

	"github.com/cutekitek/rankode-judge/internal/samples"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

var _ samples.Source = (*FileStorage)(nil)

// FileStorage serves sample files from a MinIO bucket.
type FileStorage struct {
	cl     *minio.Client
	Bucket string
	Prefix string
}

type Config struct {
	Url      string
	Login    string
	Password string
	Bucket   string
	Prefix   string
	UseSSL   bool
}

func NewFileStorage(cfg Config) (*FileStorage, error) {
	client, err := minio.New(cfg.Url, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Login, cfg.Password, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}
	return &FileStorage{cl: client, Bucket: cfg.Bucket, Prefix: cfg.Prefix}, nil
}

func (s *FileStorage) objectName(filename string) string {
	if s.Prefix == "" {
		return filename
	}
	return path.Join(s.Prefix, filename)
}

func (s *FileStorage) GetFile(ctx context.Context, filename string) (io.ReadCloser, error) {
	obj, err := s.cl.GetObject(ctx, s.Bucket, s.objectName(filename), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy, Stat surfaces a missing key before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, errors.Wrap(samples.ErrProblemNotFound, filename)
		}
		return nil, errors.Wrapf(err, "failed to stat %s", filename)
	}
	return obj, nil
}

func (s *FileStorage) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.GetFile(ctx, name)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
