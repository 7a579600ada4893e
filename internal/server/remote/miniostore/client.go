// Package miniostore implements remote.Client against a MinIO server using
// the native minio-go SDK.
package miniostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dmitrijs2005/mediasync/internal/logging"
	"github.com/dmitrijs2005/mediasync/internal/server/models"
	"github.com/dmitrijs2005/mediasync/internal/server/quota"
	"github.com/dmitrijs2005/mediasync/internal/server/remote"
)

const minPartSize = 5 << 20

// api is the subset of *minio.Client the store calls.
type api interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucket, key string, expires time.Duration, params url.Values) (*url.URL, error)
}

var newMinioClient = func(endpoint string, opts *minio.Options) (api, error) {
	c, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type Options struct {
	Endpoint      string
	UseSSL        bool
	Region        string
	DefaultBucket string
	LinkExpiry    time.Duration
	Logger        logging.Logger
}

type Client struct {
	api        api
	bucket     string
	prefix     string
	limit      *int64
	linkExpiry time.Duration
	log        logging.Logger
}

// Builder returns a remote.Builder producing MinIO sessions with opts.
func Builder(opts Options) remote.Builder {
	return func(ctx context.Context, account *models.StorageAccountConfig, creds remote.Credentials) (remote.Client, error) {
		return New(account, creds, opts)
	}
}

func New(account *models.StorageAccountConfig, creds remote.Credentials, opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, remote.NewError(models.KindConfigUnavailable, "open", errors.New("minio endpoint is not configured"))
	}
	a, err := newMinioClient(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, remote.NewError(models.KindConfigUnavailable, "open", err)
	}
	return newClient(a, account, opts), nil
}

func newClient(a api, account *models.StorageAccountConfig, opts Options) *Client {
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
		bucket:     bucket,
		prefix:     strings.Trim(account.Prefix, "/"),
		limit:      limit,
		linkExpiry: opts.LinkExpiry,
		log:        log.With("module", "miniostore", "bucket", bucket),
	}
}

func (c *Client) key(parts ...string) string {
	return path.Join(append([]string{c.prefix}, parts...)...)
}

func (c *Client) dirPrefix(folderID string) string {
	p := c.key(strings.Trim(folderID, "/"))
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

func (c *Client) Authenticate(ctx context.Context) error {
	ok, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return classify("authenticate", err)
	}
	if !ok {
		return remote.NewError(models.KindRemoteRejected, "authenticate", fmt.Errorf("bucket %q does not exist", c.bucket))
	}
	return nil
}

func (c *Client) GetQuota(ctx context.Context) (quota.Usage, error) {
	var used int64
	for obj := range c.api.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: c.dirPrefix(""), Recursive: true}) {
		if obj.Err != nil {
			return quota.Usage{}, classify("quota", obj.Err)
		}
		used += obj.Size
	}
	return quota.Usage{Used: used, Limit: c.limit}, nil
}

func (c *Client) ListFolders(ctx context.Context, parentID string) ([]remote.Folder, error) {
	parent := strings.Trim(parentID, "/")
	prefix := c.dirPrefix(parent)
	var folders []remote.Folder
	for obj := range c.api.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, classify("list_folders", obj.Err)
		}
		if obj.Key == prefix || !strings.HasSuffix(obj.Key, "/") {
			continue
		}
		id := strings.Trim(strings.TrimPrefix(obj.Key, c.prefix), "/")
		folders = append(folders, remote.Folder{ID: id, Name: path.Base(id), ParentID: parent})
	}
	return folders, nil
}

func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (remote.Folder, error) {
	if name == "" || strings.Contains(name, "/") {
		return remote.Folder{}, remote.NewError(models.KindRemoteRejected, "create_folder", fmt.Errorf("invalid folder name %q", name))
	}
	parent := strings.Trim(parentID, "/")
	id := path.Join(parent, name)
	if _, err := c.api.PutObject(ctx, c.bucket, c.key(id)+"/", strings.NewReader(""), 0, minio.PutObjectOptions{}); err != nil {
		return remote.Folder{}, classify("create_folder", err)
	}
	return remote.Folder{ID: id, Name: name, ParentID: parent, CreatedAt: time.Now()}, nil
}

// progressReader receives minio's progress callbacks: the SDK reads from it
// exactly as many bytes as it has sent.
type progressReader struct {
	sent int64
	step int64
	last int64
	fn   remote.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	p.sent += int64(len(b))
	if p.sent-p.last >= p.step {
		p.last = p.sent
		p.fn(p.sent)
	}
	return len(b), nil
}

func (c *Client) UploadFile(ctx context.Context, req remote.UploadRequest, progress remote.ProgressFunc) (remote.UploadResult, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return remote.UploadResult{}, remote.NewError(models.KindSourceMissing, "upload", err)
	}
	defer f.Close()

	partSize := req.ChunkSize
	if partSize < minPartSize {
		partSize = minPartSize
	}

	opts := minio.PutObjectOptions{
		ContentType: req.ContentType,
		PartSize:    uint64(partSize),
	}
	pr := &progressReader{step: req.ChunkSize, fn: progress}
	if progress != nil {
		if pr.step <= 0 {
			pr.step = 1
		}
		opts.Progress = pr
	}

	key := c.key(strings.Trim(req.FolderID, "/"), req.Name)
	info, err := c.api.PutObject(ctx, c.bucket, key, f, req.Size, opts)
	if err != nil {
		e := classify("upload", err)
		var re *remote.Error
		if errors.As(e, &re) && re.Kind == models.KindQuotaExceeded {
			re.Required = req.Size
		}
		return remote.UploadResult{}, e
	}
	if progress != nil && pr.last < info.Size {
		progress(info.Size)
	}

	return remote.UploadResult{RemoteID: key, Link: c.link(ctx, key), Size: info.Size}, nil
}

func (c *Client) link(ctx context.Context, key string) string {
	if c.linkExpiry <= 0 {
		return ""
	}
	u, err := c.api.PresignedGetObject(ctx, c.bucket, key, c.linkExpiry, nil)
	if err != nil {
		c.log.Warn(ctx, "presign failed", "key", key, "error", err)
		return ""
	}
	return u.String()
}

func (c *Client) DeleteFile(ctx context.Context, remoteID string) error {
	return classify("delete", c.api.RemoveObject(ctx, c.bucket, remoteID, minio.RemoveObjectOptions{}))
}

func (c *Client) GetFile(ctx context.Context, remoteID string) (remote.FileInfo, error) {
	obj, err := c.api.StatObject(ctx, c.bucket, remoteID, minio.StatObjectOptions{})
	if err != nil {
		return remote.FileInfo{}, classify("get_file", err)
	}
	return remote.FileInfo{
		ID:          remoteID,
		Name:        path.Base(remoteID),
		Size:        obj.Size,
		ContentType: obj.ContentType,
		ModifiedAt:  obj.LastModified,
	}, nil
}

// classify wraps a minio-go error into a *remote.Error. minio-go already
// retries throttled requests internally and does not surface Retry-After.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return err
	}

	resp := minio.ToErrorResponse(err)
	kind := remote.KindOf(err)
	if resp.StatusCode != 0 {
		kind = remote.KindForStatus(resp.StatusCode)
	}
	if k, ok := remote.KindForCode(resp.Code); ok {
		kind = k
	}

	return remote.NewError(kind, op, err)
}
