// Package s3store implements remote.Client on top of an S3-compatible
// bucket. Folders are zero-byte "dir/" marker objects under the account
// prefix and remote ids are object keys.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/mediasync/internal/logging"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/quota"
	"github.com/dmitrijs2005/mediasync/internal/server/remote"
)

// minPartSize is the smallest part S3 accepts for every part but the last.
const minPartSize = 5 << 20

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// api is the subset of *s3.Client the store calls.
type api interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Options are the process-wide S3 settings; bucket and prefix come from the account.
type Options struct {
	Region         string
	BaseEndpoint   string
	ForcePathStyle bool
	DefaultBucket  string
	LinkExpiry     time.Duration
	Logger         logging.Logger
}

type Client struct {
	api     api
	presign presigner

	bucket     string
	prefix     string
	limit      *int64
	linkExpiry time.Duration
	log        logging.Logger
}

// Builder returns a remote.Builder producing S3 sessions with opts.
func Builder(opts Options) remote.Builder {
	return func(ctx context.Context, account *models.StorageAccountConfig, creds remote.Credentials) (remote.Client, error) {
		return New(ctx, account, creds, opts)
	}
}

// New opens an S3 session for account.
func New(ctx context.Context, account *models.StorageAccountConfig, creds remote.Credentials, opts Options) (*Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		)))
	if err != nil {
		return nil, remote.NewError(models.KindConfigUnavailable, "open", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	return newClient(client, s3.NewPresignClient(client), account, opts), nil
}

func newClient(a api, p presigner, account *models.StorageAccountConfig, opts Options) *Client {
	bucket := account.Bucket
	if bucket == "" {
		bucket = opts.DefaultBucket
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	var limit *int64
	if account.QuotaLimit != nil {
		l := *account.QuotaLimit
		limit = &l
	}
	return &Client{
		api:        a,
		presign:    p,
		bucket:     bucket,
		prefix:     strings.Trim(account.Prefix, "/"),
		limit:      limit,
		linkExpiry: opts.LinkExpiry,
		log:        log.With("module", "s3store", "bucket", bucket),
	}
}

func (c *Client) key(parts ...string) string {
	return path.Join(append([]string{c.prefix}, parts...)...)
}

func (c *Client) relative(key string) string {
	if c.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, c.prefix), "/")
}

// dirPrefix returns the listing prefix for a folder id, always ending in "/"
// unless it is the bucket root.
func (c *Client) dirPrefix(folderID string) string {
	p := c.key(strings.Trim(folderID, "/"))
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return classify("authenticate", err)
}

// GetQuota sums object sizes under the account prefix. The limit is the
// account's configured one since S3 has no native capacity.
func (c *Client) GetQuota(ctx context.Context) (quota.Usage, error) {
	var used int64
	err := c.list(ctx, c.dirPrefix(""), "", func(out *s3.ListObjectsV2Output) {
		for _, o := range out.Contents {
			used += aws.ToInt64(o.Size)
		}
	})
	if err != nil {
		return quota.Usage{}, classify("quota", err)
	}
	return quota.Usage{Used: used, Limit: c.limit}, nil
}

func (c *Client) ListFolders(ctx context.Context, parentID string) ([]remote.Folder, error) {
	var folders []remote.Folder
	err := c.list(ctx, c.dirPrefix(parentID), "/", func(out *s3.ListObjectsV2Output) {
		for _, cp := range out.CommonPrefixes {
			id := strings.TrimSuffix(c.relative(aws.ToString(cp.Prefix)), "/")
			folders = append(folders, remote.Folder{
				ID:       id,
				Name:     path.Base(id),
				ParentID: strings.Trim(parentID, "/"),
			})
		}
	})
	if err != nil {
		return nil, classify("list_folders", err)
	}
	return folders, nil
}

func (c *Client) list(ctx context.Context, prefix, delimiter string, page func(*s3.ListObjectsV2Output)) error {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	for {
		out, err := c.api.ListObjectsV2(ctx, in)
		if err != nil {
			return err
		}
		page(out)
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}

func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (remote.Folder, error) {
	if name == "" || strings.Contains(name, "/") {
		return remote.Folder{}, remote.NewError(models.KindRemoteRejected, "create_folder", fmt.Errorf("invalid folder name %q", name))
	}
	parent := strings.Trim(parentID, "/")
	id := path.Join(parent, name)
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.key(id) + "/"),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return remote.Folder{}, classify("create_folder", err)
	}
	return remote.Folder{ID: id, Name: name, ParentID: parent, CreatedAt: time.Now()}, nil
}

func (c *Client) UploadFile(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	if progress == nil {
		progress = func(int64) {}
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return remote.UploadResult{}, remote.NewError(models.KindSourceMissing, "upload", err)
	}
	defer f.Close()

	key := c.key(strings.Trim(req.FolderID, "/"), req.Name)

	partSize := req.ChunkSize
	if partSize < minPartSize {
		partSize = minPartSize
	}

	if req.Size <= partSize {
		err = c.putSingle(ctx, f, key, req)
		if err == nil {
			progress(req.Size)
		}
	} else {
		err = c.putMultipart(ctx, f, key, req, partSize, progress)
	}
	if err != nil {
		var re *remote.Error
		if errors.As(err, &re) && re.Kind == models.KindQuotaExceeded {
			re.Required = req.Size
		}
		return remote.UploadResult{}, err
	}

	return remote.UploadResult{RemoteID: key, Link: c.link(ctx, key), Size: req.Size}, nil
}

func (c *Client) putSingle(ctx context.Context, f *os.File, key string, req remote.UploadRequest) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(req.Size),
		ContentType:   contentType(req.ContentType),
	})
	return classify("upload", err)
}

func (c *Client) putMultipart(ctx context.Context, f *os.File, key string, req remote.UploadRequest, partSize int64, progress remote.ProgressFunc) (err error) {
	created, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: contentType(req.ContentType),
	})
	if err != nil {
		return classify("upload", err)
	}
	uploadID := created.UploadId

	defer func() {
		if err == nil {
			return
		}
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, aerr := c.api.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(c.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		}); aerr != nil {
			c.log.Warn(ctx, "abort multipart upload failed", "key", key, "error", aerr)
		}
	}()

	var parts []types.CompletedPart
	var offset int64
	for n := int32(1); offset < req.Size; n++ {
		if err := ctx.Err(); err != nil {
			return remote.NewError(remote.KindOf(err), "upload", err)
		}
		size := min(partSize, req.Size-offset)
		out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(n),
			Body:          io.NewSectionReader(f, offset, size),
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			return classify("upload", err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(n)})
		offset += size
		progress(offset)
	}

	_, err = c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	return classify("upload", err)
}

// link presigns a GET for key. A presign failure leaves the link empty; the
// object itself is already stored.
func (c *Client) link(ctx context.Context, key string) string {
	if c.presign == nil || c.linkExpiry <= 0 {
		return ""
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.linkExpiry))
	if err != nil {
		c.log.Warn(ctx, "presign failed", "key", key, "error", err)
		return ""
	}
	return req.URL
}

func (c *Client) DeleteFile(ctx context.Context, remoteID string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(remoteID),
	})
	return classify("delete", err)
}

func (c *Client) GetFile(ctx context.Context, remoteID string) (remote.FileInfo, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(remoteID),
	})
	if err != nil {
		return remote.FileInfo{}, classify("get_file", err)
	}
	return remote.FileInfo{
		ID:          remoteID,
		Name:        path.Base(remoteID),
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ModifiedAt:  aws.ToTime(out.LastModified),
	}, nil
}

func contentType(ct string) *string {
	if ct == "" {
		return nil
	}
	return aws.String(ct)
}
