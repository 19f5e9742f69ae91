// Package archive writes completed-session reports to S3-compatible object
// storage. Reports are a cold record for guardians and counselors; the hot
// path never reads them back.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = fmt.Errorf("archive: report not found")

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Enabled reports whether the config carries enough to reach a bucket.
// An empty endpoint means archival is simply off.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

type S3Archiver struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

func NewS3Archiver(cfg S3Config) (*S3Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive: endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("archive: access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: init client: %w", err)
	}

	return &S3Archiver{client: client, bucket: bucket, region: region}, nil
}

func (a *S3Archiver) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

// PutReport serializes the report and stores it at
// sessions/<sessionID>/report.json.
func (a *S3Archiver) PutReport(ctx context.Context, sessionID string, report any) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("archive: session id is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("archive: ensure bucket: %w", err)
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode report: %w", err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, reportKey(sessionID),
		bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
	return err
}

// GetReport reads a stored report back, raw.
func (a *S3Archiver) GetReport(ctx context.Context, sessionID string) ([]byte, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("archive: ensure bucket: %w", err)
	}
	obj, err := a.client.GetObject(ctx, a.bucket, reportKey(sessionID), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// ListReports returns the session ids with a stored report, sorted.
func (a *S3Archiver) ListReports(ctx context.Context) ([]string, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("archive: ensure bucket: %w", err)
	}
	ids := make([]string, 0, 32)
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
		Prefix:    "sessions/",
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		rest := strings.TrimPrefix(obj.Key, "sessions/")
		id, _, ok := strings.Cut(rest, "/")
		if !ok || id == "" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ReportURL returns a presigned link a guardian dashboard can fetch
// directly. Links expire after an hour.
func (a *S3Archiver) ReportURL(ctx context.Context, sessionID string) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, reportKey(sessionID), time.Hour, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func reportKey(sessionID string) string {
	return "sessions/" + strings.TrimSpace(sessionID) + "/report.json"
}
