package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nickcecere/docchat/internal/config"
)

// S3API is the subset of the S3 client the sink uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Sink stores derived content as JSON objects:
//
//	<prefix>/<user>/<conversation>/<file_id>/file.json
//	<prefix>/<user>/<conversation>/<file_id>/artifacts/<id>.json
//
// Segments are path-escaped so an id containing "/" stays one segment.
type S3Sink struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Sink builds an S3 client from configuration. Static credentials are
// used when both keys are set; otherwise the default AWS chain applies.
func NewS3Sink(ctx context.Context, cfg config.S3ArtifactConfig) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("artifacts.s3.bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3SinkWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3SinkWithClient wraps an existing client.
func NewS3SinkWithClient(client S3API, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Close is a no-op; the S3 client holds no resources.
func (s *S3Sink) Close() error { return nil }

func (s *S3Sink) key(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	if s.prefix != "" {
		escaped = append(escaped, s.prefix)
	}
	for _, p := range parts {
		if p == "" {
			p = "_"
		}
		escaped = append(escaped, url.PathEscape(p))
	}
	return path.Join(escaped...)
}

func (s *S3Sink) fileKey(userID, conversationID, fileID string) string {
	return s.key(userID, conversationID, fileID, "file.json")
}

func (s *S3Sink) artifactKey(a *Artifact) string {
	return s.key(a.UserID, a.ConversationID, a.FileID, "artifacts", a.ID+".json")
}

func (s *S3Sink) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

// getJSON decodes the object at key into v. It reports false when the
// object does not exist.
func (s *S3Sink) getJSON(ctx context.Context, key string, v any) (bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return false, nil
		}
		return false, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

func (s *S3Sink) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// SaveContent writes a file's text, keeping any summary already stored.
func (s *S3Sink) SaveContent(ctx context.Context, f File) error {
	key := s.fileKey(f.UserID, f.ConversationID, f.FileID)
	if f.Summary == "" {
		var existing File
		found, err := s.getJSON(ctx, key, &existing)
		if err != nil {
			return fmt.Errorf("failed to read file content: %w", err)
		}
		if found {
			f.Summary = existing.Summary
		}
	}
	if err := s.putJSON(ctx, key, f); err != nil {
		return fmt.Errorf("failed to save file content: %w", err)
	}
	return nil
}

// SaveSummary sets the summary of a saved file.
func (s *S3Sink) SaveSummary(ctx context.Context, userID, conversationID, fileID, summary string) error {
	key := s.fileKey(userID, conversationID, fileID)
	var f File
	found, err := s.getJSON(ctx, key, &f)
	if err != nil {
		return fmt.Errorf("failed to read file content: %w", err)
	}
	if !found {
		return ErrFileNotFound
	}
	f.Summary = summary
	if err := s.putJSON(ctx, key, f); err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// SaveArtifact writes an artifact object.
func (s *S3Sink) SaveArtifact(ctx context.Context, a *Artifact) error {
	fillArtifact(a)
	if err := s.putJSON(ctx, s.artifactKey(a), a); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// File returns a file's derived text, or nil when unknown.
func (s *S3Sink) File(ctx context.Context, userID, conversationID, fileID string) (*File, error) {
	var f File
	found, err := s.getJSON(ctx, s.fileKey(userID, conversationID, fileID), &f)
	if err != nil {
		return nil, fmt.Errorf("failed to get file content: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &f, nil
}

// Artifacts lists a conversation's artifacts, oldest first.
func (s *S3Sink) Artifacts(ctx context.Context, userID, conversationID string) ([]Artifact, error) {
	keys, err := s.list(ctx, s.key(userID, conversationID)+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	var out []Artifact
	for _, k := range keys {
		if !strings.Contains(k, "/artifacts/") {
			continue
		}
		var a Artifact
		found, err := s.getJSON(ctx, k, &a)
		if err != nil {
			return nil, fmt.Errorf("failed to read artifact %s: %w", k, err)
		}
		if found {
			out = append(out, a)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteFile removes every object under the file's prefix.
func (s *S3Sink) DeleteFile(ctx context.Context, userID, conversationID, fileID string) error {
	keys, err := s.list(ctx, s.key(userID, conversationID, fileID)+"/")
	if err != nil {
		return fmt.Errorf("failed to list file objects: %w", err)
	}
	for _, k := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		}); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
	}
	return nil
}
