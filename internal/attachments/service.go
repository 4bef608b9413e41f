// Package attachments provides bookkeeping for message attachments backed
// by S3-compatible object storage, per SPEC_FULL.md §3. It records metadata
// and moves the object bytes itself (Upload puts them, Download gets them).
// Thumbnailing and virus scanning are out of scope (SPEC_FULL.md Non-goals).
package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	awsv1 "github.com/aws/aws-sdk-go/aws"
	credsv1 "github.com/aws/aws-sdk-go/aws/credentials"
	sessionv1 "github.com/aws/aws-sdk-go/aws/session"
	s3v1 "github.com/aws/aws-sdk-go/service/s3"

	"chatcore/internal/apperrors"
	"chatcore/internal/config"
	"chatcore/internal/database"
	"chatcore/internal/models"
)

// Service combines S3-compatible object storage with the Postgres
// attachments table. If S3 configuration is incomplete, it degrades
// gracefully: metadata rows can still be recorded, but upload/download
// operations fail with a ServiceUnavailable error instead of panicking.
type Service struct {
	client *s3v1.S3
	bucket string
	db     *database.DB
}

// New creates and configures a new attachments Service. If cfg is
// incomplete, the returned Service has no object-storage client and
// degrades gracefully (see isConfigured).
func New(cfg config.S3Config, db *database.DB) (*Service, error) {
	if cfg.Endpoint == "" || cfg.Region == "" || cfg.KeyID == "" || cfg.AppKey == "" || cfg.Bucket == "" {
		log.Println("[attachments] S3 configuration is not fully provided. Attachment storage is disabled.")
		return &Service{db: db}, nil
	}

	disableSSL := strings.HasPrefix(strings.ToLower(cfg.Endpoint), "http://")

	sess, err := sessionv1.NewSession(&awsv1.Config{
		Region:           awsv1.String(cfg.Region),
		Endpoint:         awsv1.String(cfg.Endpoint),
		S3ForcePathStyle: awsv1.Bool(true),
		Credentials:      credsv1.NewStaticCredentials(cfg.KeyID, cfg.AppKey, ""),
		DisableSSL:       awsv1.Bool(disableSSL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3v1.New(sess)
	log.Printf("[attachments] object storage initialized for bucket '%s' at endpoint '%s' (region '%s').",
		cfg.Bucket, cfg.Endpoint, cfg.Region)
	return &Service{client: client, bucket: cfg.Bucket, db: db}, nil
}

// BucketName returns the configured bucket, or "" if storage is disabled.
func (s *Service) BucketName() string { return s.bucket }

func (s *Service) isConfigured() bool {
	return s.client != nil && s.bucket != ""
}

// Upload stores data under key and mimeType and, on success, records an
// Attachment row owned by userID (optionally linked to messageID once the
// message carrying it is sent).
func (s *Service) Upload(ctx context.Context, userID string, messageID *string, key, mimeType string, data []byte) (*models.Attachment, error) {
	if !s.isConfigured() {
		return nil, apperrors.New(apperrors.ServiceUnavailable, "attachment storage is not configured")
	}

	var body io.ReadSeeker = bytes.NewReader(data)
	_, err := s.client.PutObjectWithContext(ctx, &s3v1.PutObjectInput{
		Bucket:      awsv1.String(s.bucket),
		Key:         awsv1.String(key),
		Body:        body,
		ContentType: awsv1.String(mimeType),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, fmt.Sprintf("failed to upload object %q", key), err)
	}
	log.Printf("[attachments] uploaded %q to bucket %q.", key, s.bucket)

	attachment := models.Attachment{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		ObjectKey: key,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.InsertAttachment(&attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

// Download returns the bytes stored under an object key.
func (s *Service) Download(ctx context.Context, key string) ([]byte, error) {
	if !s.isConfigured() {
		return nil, apperrors.New(apperrors.ServiceUnavailable, "attachment storage is not configured")
	}
	result, err := s.client.GetObjectWithContext(ctx, &s3v1.GetObjectInput{
		Bucket: awsv1.String(s.bucket),
		Key:    awsv1.String(key),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ServiceUnavailable, fmt.Sprintf("failed to get object %q", key), err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, fmt.Sprintf("failed to read object %q", key), err)
	}
	return body, nil
}

// Delete removes an attachment's object and metadata row. Deletion from
// object storage is best-effort: if the store is unconfigured the metadata
// row is still removed.
func (s *Service) Delete(ctx context.Context, attachmentID, callerID string) error {
	attachment, err := s.db.GetAttachment(attachmentID)
	if err != nil {
		return err
	}
	if attachment.UserID != callerID {
		return apperrors.New(apperrors.Forbidden, "only the owner may delete an attachment")
	}

	if s.isConfigured() {
		_, err := s.client.DeleteObjectsWithContext(ctx, &s3v1.DeleteObjectsInput{
			Bucket: awsv1.String(s.bucket),
			Delete: &s3v1.Delete{
				Objects: []*s3v1.ObjectIdentifier{{Key: awsv1.String(attachment.ObjectKey)}},
				Quiet:   awsv1.Bool(true),
			},
		})
		if err != nil {
			log.Printf("[attachments] failed to delete object %q from bucket %q: %v", attachment.ObjectKey, s.bucket, err)
		}
	}

	return s.db.DeleteAttachment(attachmentID)
}
