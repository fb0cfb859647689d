// Copyright 2026 the Exposure Reporting Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const (
	// singlePartMaxBytes is the largest object uploaded in one request.
	// Anything larger goes through the multipart uploader.
	singlePartMaxBytes = 100 << 20

	// multipartPartBytes is the part size for multipart uploads.
	multipartPartBytes = 5 << 20

	// serverSideEncryption is mandatory for every object written.
	serverSideEncryption = "AES256"
)

// Compile-time check to verify implements interface.
var _ Blobstore = (*AWSS3)(nil)

// AWSS3 implements the Blobstore interface and provides the ability to write
// files to AWS S3.
type AWSS3 struct {
	svc      *s3.S3
	uploader *s3manager.Uploader
}

// NewAWSS3 creates an AWS S3 client, suitable for use with
// serverenv.ServerEnv.
func NewAWSS3(_ context.Context) (Blobstore, error) {
	sess, err := session.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	svc := s3.New(sess)
	uploader := s3manager.NewUploaderWithClient(svc, func(u *s3manager.Uploader) {
		u.PartSize = multipartPartBytes
		// Abort the whole upload when a part fails.
		u.LeavePartsOnError = false
	})

	return &AWSS3{
		svc:      svc,
		uploader: uploader,
	}, nil
}

// CreateObject creates a new S3 object or overwrites an existing one. Objects
// at or below 100 MiB upload in a single part; larger objects use 5 MiB
// multipart uploads that abort on part failure. Server-side encryption is
// always requested.
func (s *AWSS3) CreateObject(ctx context.Context, bucket, objectName string, contents []byte, contentType string) (string, error) {
	if len(contents) <= singlePartMaxBytes {
		out, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:               aws.String(bucket),
			Key:                  aws.String(objectName),
			Body:                 bytes.NewReader(contents),
			ContentType:          contentTypeOrNil(contentType),
			ServerSideEncryption: aws.String(serverSideEncryption),
		})
		if err != nil {
			return "", fmt.Errorf("storage.CreateObject: %w", err)
		}
		return aws.StringValue(out.VersionId), nil
	}

	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:               aws.String(bucket),
		Key:                  aws.String(objectName),
		Body:                 bytes.NewReader(contents),
		ContentType:          contentTypeOrNil(contentType),
		ServerSideEncryption: aws.String(serverSideEncryption),
	})
	if err != nil {
		return "", fmt.Errorf("storage.CreateObject (multipart): %w", err)
	}
	return aws.StringValue(out.VersionID), nil
}

func contentTypeOrNil(ct string) *string {
	if ct == "" {
		return nil
	}
	return aws.String(ct)
}

// GetObject returns the contents of the object, or ErrNotFound.
func (s *AWSS3) GetObject(ctx context.Context, bucket, objectName string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectName),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage.GetObject: %w", err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage.GetObject: %w", err)
	}
	return b, nil
}

// DeleteObject deletes an S3 object, returning nil if the object was
// successfully deleted, or if the object doesn't exist.
func (s *AWSS3) DeleteObject(ctx context.Context, bucket, objectName string) error {
	if _, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectName),
	}); err != nil {
		return fmt.Errorf("storage.DeleteObject: %w", err)
	}
	return nil
}

// SignedURL returns a presigned GET URL with an absolute expiry.
func (s *AWSS3) SignedURL(_ context.Context, bucket, objectName string, ttl time.Duration) (string, error) {
	req, _ := s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectName),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("storage.SignedURL: %w", err)
	}
	return url, nil
}
