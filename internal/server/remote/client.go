// Package remote defines the contract between the upload pipeline and an
// object-storage provider, together with the classified error every
// provider call returns.
package remote

import (
	"context"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/server/quota"
)

// Folder is a container on the provider side.
type Folder struct {
	ID        string
	Name      string
	ParentID  string
	CreatedAt time.Time
}

// FileInfo describes a stored object.
type FileInfo struct {
	ID          string
	Name        string
	Size        int64
	ContentType string
	ModifiedAt  time.Time
}

// UploadRequest describes one transfer.
type UploadRequest struct {
	Path        string
	Name        string
	FolderID    string
	ContentType string
	Size        int64
	// ChunkSize bounds each transferred piece; progress is reported per chunk.
	ChunkSize int64
}

// UploadResult is returned once the provider has finalized the object.
type UploadResult struct {
	RemoteID string
	// Link is a shareable URL when the provider offers one.
	Link string
	// Size is the byte count the provider acknowledged.
	Size int64
}

// ProgressFunc receives the cumulative bytes transferred after each chunk.
type ProgressFunc func(transferred int64)

// Client is a provider session for a single storage account. All methods
// return *Error on failure.
type Client interface {
	Authenticate(ctx context.Context) error
	GetQuota(ctx context.Context) (quota.Usage, error)
	ListFolders(ctx context.Context, parentID string) ([]Folder, error)
	CreateFolder(ctx context.Context, name, parentID string) (Folder, error)
	UploadFile(ctx context.Context, req UploadRequest, progress ProgressFunc) (UploadResult, error)
	DeleteFile(ctx context.Context, remoteID string) error
	GetFile(ctx context.Context, remoteID string) (FileInfo, error)
}
