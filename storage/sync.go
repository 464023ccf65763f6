// Package storage uploads local job inputs, scripts and jars to S3 so
// job flow steps can reference them.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"
)

const (
	uploaderPartSize    = 16 * 1024 * 1024
	uploaderConcurrency = 5
)

// S3API is the part of the S3 client a Syncer needs
type S3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// SyncResult lists the object keys a sync uploaded and skipped
type SyncResult struct {
	Uploaded []string
	Skipped  []string
}

// Syncer mirrors local files into an S3 bucket
type Syncer struct {
	client   S3API
	uploader *manager.Uploader
	logger   logrus.FieldLogger
}

// NewSyncer creates a syncer. logger may be nil.
func NewSyncer(client S3API, logger logrus.FieldLogger) *Syncer {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Syncer{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = uploaderPartSize
			u.Concurrency = uploaderConcurrency
		}),
		logger: logger,
	}
}

// Sync uploads local, a file or a directory tree, under remoteDir in
// bucket. Objects whose ETag already matches the local MD5 are skipped.
func (s *Syncer) Sync(ctx context.Context, local, bucket, remoteDir string) (*SyncResult, error) {
	info, err := os.Stat(local)
	if err != nil {
		return nil, err
	}

	files := map[string]string{} // key -> local path
	prefix := strings.Trim(remoteDir, "/")
	if !info.IsDir() {
		files[path.Join(prefix, filepath.Base(local))] = local
	} else {
		fsys := os.DirFS(local)
		matches, err := doublestar.Glob(fsys, "**/*")
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", local, err)
		}
		for _, rel := range matches {
			fi, err := fs.Stat(fsys, rel)
			if err != nil {
				return nil, err
			}
			if !fi.Mode().IsRegular() {
				continue
			}
			files[path.Join(prefix, rel)] = filepath.Join(local, filepath.FromSlash(rel))
		}
	}

	keys := make([]string, 0, len(files))
	for key := range files {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := &SyncResult{}
	for _, key := range keys {
		uploaded, err := s.syncFile(ctx, files[key], bucket, key)
		if err != nil {
			return result, err
		}
		if uploaded {
			result.Uploaded = append(result.Uploaded, key)
		} else {
			result.Skipped = append(result.Skipped, key)
		}
	}
	return result, nil
}

func (s *Syncer) syncFile(ctx context.Context, localPath, bucket, key string) (bool, error) {
	sum, err := fileMD5(localPath)
	if err != nil {
		return false, err
	}

	etag, err := s.remoteETag(ctx, bucket, key)
	if err != nil {
		return false, err
	}
	if etag == sum {
		s.logger.WithField("key", key).Debug("object unchanged")
		return false, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return false, fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
	}).Info("uploaded")
	return true, nil
}

// remoteETag returns the unquoted ETag of an object, or "" when it does
// not exist. Multipart ETags never equal an MD5, so those objects are
// always uploaded again.
func (s *Syncer) remoteETag(ctx context.Context, bucket, key string) (string, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to head s3://%s/%s: %w", bucket, key, err)
	}
	return strings.Trim(aws.ToString(head.ETag), `"`), nil
}

func isNotFound(err error) bool {
	var aerr smithy.APIError
	if errors.As(err, &aerr) {
		switch aerr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func fileMD5(name string) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
