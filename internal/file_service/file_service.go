package file_service

import (
	"context"
	"io"
)

type OpenFlag int

const (
	OpenCreate OpenFlag = 1 << iota
	OpenTrunc
	OpenAppend
)

// RootInumber is the inode of the single directory every path resolves in.
const RootInumber = 0

type FileInfo struct {
	Path    string `json:"path"`
	Inumber int    `json:"inumber"`
	Type    string `json:"type"`
	Size    int64  `json:"size"`
	Blocks  int    `json:"blocks"`
}

type DirEntry struct {
	Name    string `json:"name"`
	Inumber int    `json:"inumber"`
	Size    int64  `json:"size"`
}

type FsStats struct {
	BlockSize     int   `json:"block_size"`
	TotalBlocks   int   `json:"total_blocks"`
	FreeBlocks    int   `json:"free_blocks"`
	TotalInodes   int   `json:"total_inodes"`
	UsedInodes    int   `json:"used_inodes"`
	OpenFiles     int   `json:"open_files"`
	MaxOpenFiles  int   `json:"max_open_files"`
	DirEntries    int   `json:"dir_entries"`
	MaxDirEntries int   `json:"max_dir_entries"`
	MaxFileSize   int64 `json:"max_file_size"`
	MaxNameLen    int   `json:"max_name_len"`
}

type FileService interface {
	// --- Lifecycle ---
	Init(ctx context.Context) error
	Destroy(ctx context.Context) error
	// DestroyAfterAllClosed refuses new opens, waits for every handle to be
	// closed and then destroys the file system.
	DestroyAfterAllClosed(ctx context.Context) error

	// --- Namespace ---
	Lookup(ctx context.Context, path string) (int, error)
	Stat(ctx context.Context, path string) (*FileInfo, error)
	ReadDir(ctx context.Context) ([]DirEntry, error)
	FsStat(ctx context.Context) (*FsStats, error)

	// --- Handles ---
	Open(ctx context.Context, path string, flags OpenFlag) (int, error)
	Close(ctx context.Context, handle int) error

	// Write copies data at the handle's cursor and advances it. A write that
	// would grow the file past its maximum size is shortened, not rejected.
	Write(ctx context.Context, handle int, data []byte) (int, error)
	// Read copies from the handle's cursor without moving it.
	Read(ctx context.Context, handle int, p []byte) (int, error)
	Seek(ctx context.Context, handle int, offset int64, whence int) (int64, error)

	// --- Export ---
	Export(ctx context.Context, path string, w io.Writer) (int64, error)
	ExportToFile(ctx context.Context, path string, dest string, codec string) (int64, error)
}
