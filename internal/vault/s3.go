package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"clinicdesk/internal/clinic"
	"clinicdesk/internal/config"
)

// descriptionKey is the user metadata key holding the JSON backup description.
const descriptionKey = "description"

// s3Client is the subset of *s3.Client the vault uses.
type s3Client interface {
	manager.UploadAPIClient
	manager.DownloadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Vault stores backups as objects in an S3 compatible bucket. Object
// IDs are full keys (prefix + name).
type S3Vault struct {
	name   string
	bucket string
	prefix string

	client     s3Client
	creds      aws.CredentialsProvider
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3Vault builds an S3 vault from cfg. Static credentials are used when
// both key fields are set; otherwise the default AWS credential chain applies.
func NewS3Vault(ctx context.Context, cfg config.VaultConfig) (*S3Vault, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 vault requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	v := newS3Vault(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client)
	v.creds = awsCfg.Credentials
	return v, nil
}

func newS3Vault(name, bucket, prefix string, client s3Client) *S3Vault {
	return &S3Vault{
		name:       name,
		bucket:     bucket,
		prefix:     prefix,
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}
}

func (v *S3Vault) key(name string) string { return v.prefix + name }

// IsAuthenticated reports whether credentials resolve and the bucket is
// reachable with them. Access errors report false without an error.
func (v *S3Vault) IsAuthenticated(ctx context.Context) (bool, error) {
	if v.creds != nil {
		if _, err := v.creds.Retrieve(ctx); err != nil {
			return false, nil
		}
	}
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err == nil {
		return true, nil
	}
	if isAccessDenied(err) || isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking bucket %s: %w", v.bucket, err)
}

func (v *S3Vault) UploadFile(ctx context.Context, path, name, mimeType string, desc clinic.BackupDescription) (*clinic.RemoteFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload source: %w", err)
	}
	defer f.Close()

	encoded, err := encodeDescription(desc)
	if err != nil {
		return nil, err
	}

	key := v.key(name)
	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(v.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(mimeType),
		Metadata:    map[string]string{descriptionKey: encoded},
	})
	if err != nil {
		return nil, v.wrap("uploading", key, err)
	}
	return v.GetFileMetadata(ctx, key)
}

func (v *S3Vault) FindFile(ctx context.Context, name string) (*clinic.RemoteFile, error) {
	f, err := v.GetFileMetadata(ctx, v.key(name))
	if errors.Is(err, clinic.ErrRemoteNotFound) {
		return nil, nil
	}
	return f, err
}

// DownloadFile fetches the object into a temp file next to destPath and
// renames it into place once complete.
func (v *S3Vault) DownloadFile(ctx context.Context, fileID, destPath string) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	_, err = v.downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		tmp.Close()
		return v.wrap("downloading", fileID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// ListFiles lists the objects under the vault prefix, newest first.
// Descriptions are fetched only for the returned objects.
func (v *S3Vault) ListFiles(ctx context.Context, limit int) ([]*clinic.RemoteFile, error) {
	var files []*clinic.RemoteFile
	p := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(v.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, v.wrap("listing", v.prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			files = append(files, &clinic.RemoteFile{
				ID:         key,
				Name:       strings.TrimPrefix(key, v.prefix),
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}

	sortNewestFirst(files)
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	for i, f := range files {
		full, err := v.GetFileMetadata(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		files[i] = full
	}
	return files, nil
}

func (v *S3Vault) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := v.GetFileMetadata(ctx, fileID); err != nil {
		return err
	}
	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return v.wrap("deleting", fileID, err)
	}
	return nil
}

func (v *S3Vault) GetFileMetadata(ctx context.Context, fileID string) (*clinic.RemoteFile, error) {
	out, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return nil, v.wrap("reading metadata of", fileID, err)
	}

	desc, err := decodeDescription(out.Metadata[descriptionKey])
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", fileID, err)
	}
	return &clinic.RemoteFile{
		ID:          fileID,
		Name:        strings.TrimPrefix(fileID, v.prefix),
		Size:        aws.ToInt64(out.ContentLength),
		ModifiedAt:  aws.ToTime(out.LastModified).UTC(),
		MimeType:    aws.ToString(out.ContentType),
		Description: desc,
	}, nil
}

// wrap maps S3 errors onto the clinic taxonomy.
func (v *S3Vault) wrap(op, key string, err error) error {
	switch {
	case isNotFound(err):
		return fmt.Errorf("%s s3://%s/%s: %w", op, v.bucket, key, clinic.ErrRemoteNotFound)
	case isAccessDenied(err):
		return fmt.Errorf("%s s3://%s/%s: %w: %v", op, v.bucket, key, clinic.ErrNotAuthenticated, err)
	default:
		return fmt.Errorf("%s s3://%s/%s: %w", op, v.bucket, key, err)
	}
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return true
		}
	}
	return false
}

func encodeDescription(desc clinic.BackupDescription) (string, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("encoding backup description: %w", err)
	}
	return string(data), nil
}

// decodeDescription parses the description metadata. Objects uploaded by
// other tools carry none and decode to the zero value.
func decodeDescription(s string) (clinic.BackupDescription, error) {
	var desc clinic.BackupDescription
	if s == "" {
		return desc, nil
	}
	if err := json.Unmarshal([]byte(s), &desc); err != nil {
		return desc, fmt.Errorf("decoding backup description: %w", err)
	}
	return desc, nil
}

// Compile-time check that S3Vault implements clinic.RemoteStore
var _ clinic.RemoteStore = (*S3Vault)(nil)
