package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/infrastructure/resilience"
)

// objectWriter is what the uploader needs from a bucket.
type objectWriter interface {
	Write(ctx context.Context, bucket, object, contentType string, data []byte) error
}

type clientWriter struct {
	client *storage.Client
}

func (w clientWriter) Write(ctx context.Context, bucket, object, contentType string, data []byte) error {
	wc := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write object %s: %w", object, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", object, err)
	}
	return nil
}

type Uploader struct {
	client   *storage.Client
	writer   objectWriter
	executor *resilience.Executor
}

// New builds an uploader. An empty credentialsFile uses application default
// credentials.
func New(ctx context.Context, credentialsFile string, executor *resilience.Executor) (*Uploader, error) {
	var opts []option.ClientOption
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	u := newUploader(clientWriter{client: client}, executor)
	u.client = client
	return u, nil
}

func newUploader(writer objectWriter, executor *resilience.Executor) *Uploader {
	return &Uploader{writer: writer, executor: executor}
}

func (u *Uploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

// Upload writes every artifact under destination, a gs://bucket/prefix URL.
func (u *Uploader) Upload(ctx context.Context, artifacts []domain.Artifact, destination string) error {
	bucket, prefix, err := ParseDestination(destination)
	if err != nil {
		return err
	}
	for _, artifact := range artifacts {
		object := artifact.Name
		if prefix != "" {
			object = prefix + "/" + artifact.Name
		}
		call := func(callCtx context.Context) error {
			return u.writer.Write(callCtx, bucket, object, artifact.ContentType, artifact.Data)
		}
		if u.executor != nil {
			err = u.executor.Execute(ctx, "gcs.upload", call, classifyGCSError)
		} else {
			err = call(ctx)
		}
		if err != nil {
			return wrapUploadError(err)
		}
	}
	return nil
}

func ParseDestination(destination string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(destination), "gs://")
	if !ok {
		return "", "", domain.WrapError(domain.ErrInvalidInput, "parse destination", fmt.Errorf("destination %q must start with gs://", destination))
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", domain.WrapError(domain.ErrInvalidInput, "parse destination", fmt.Errorf("destination %q has no bucket", destination))
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func classifyGCSError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func wrapUploadError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.WrapError(domain.ErrUnauthorized, "gcs upload", err)
		case http.StatusNotFound:
			return domain.WrapError(domain.ErrNotFound, "gcs upload", err)
		}
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return domain.WrapError(domain.ErrNotFound, "gcs upload", err)
	}
	if classifyGCSError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "gcs upload", err)
	}
	return err
}
