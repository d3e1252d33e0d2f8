package fs

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"

	"github.com/agentic-research/photoman/internal/drive"
	"github.com/agentic-research/photoman/internal/graph"
	"github.com/agentic-research/photoman/internal/logging"
	"github.com/agentic-research/photoman/internal/remote"
)

// PhotoFS implements the FUSE interface from cgofuse over a Drive. It is
// read-only: directories list lazily, files materialize on open.
type PhotoFS struct {
	fuse.FileSystemBase
	Drive     *drive.Drive
	ctx       context.Context
	mountTime fuse.Timespec
	log       *zap.Logger

	mu      sync.Mutex
	handles map[uint64]*os.File
	nextFh  uint64
}

// NewPhotoFS serves d. ctx bounds every remote call the mount triggers.
func NewPhotoFS(ctx context.Context, d *drive.Drive) *PhotoFS {
	return &PhotoFS{
		Drive:     d,
		ctx:       ctx,
		mountTime: fuse.NewTimespec(time.Now()),
		log:       logging.Named("fuse"),
		handles:   make(map[uint64]*os.File),
		nextFh:    1,
	}
}

// MountOptions are the cgofuse options for a read-only mount owned by the
// current user. direct_io makes reads bypass the size reported by Getattr,
// which is 0 until a file has been materialized.
func MountOptions() []string {
	return []string{
		"-o", "ro",
		"-o", "direct_io",
		"-o", "uid=" + strconv.Itoa(os.Getuid()),
		"-o", "gid=" + strconv.Itoa(os.Getgid()),
	}
}

// Getattr (Stat)
func (fs *PhotoFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	stat.Atim = fs.mountTime
	stat.Mtim = fs.mountTime
	stat.Ctim = fs.mountTime
	stat.Birthtim = fs.mountTime

	h, err := fs.Drive.Resolve(fs.ctx, path)
	if err != nil {
		return fs.errno("getattr", path, err)
	}
	e, err := fs.Drive.Entry(h)
	if err != nil {
		return fs.errno("getattr", path, err)
	}

	if e.IsDir {
		stat.Mode = fuse.S_IFDIR | 0o555
		stat.Nlink = 2
		return 0
	}

	stat.Mode = fuse.S_IFREG | 0o444
	stat.Nlink = 1
	if e.Content.Loaded() {
		if fi, err := os.Stat(e.Content.Path()); err == nil {
			stat.Size = fi.Size()
		}
	}
	return 0
}

// Readdir (List directory)
func (fs *PhotoFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	h, err := fs.Drive.Resolve(fs.ctx, path)
	if err != nil {
		return fs.errno("readdir", path, err)
	}
	entries, err := fs.Drive.Children(fs.ctx, h)
	if err != nil {
		return fs.errno("readdir", path, err)
	}

	fill(".", nil, 0)
	fill("..", nil, 0)
	for _, e := range entries {
		// A remote name containing a slash cannot be addressed by path.
		if strings.Contains(e.Name, "/") || e.Name == "" {
			continue
		}
		if !fill(e.Name, nil, 0) {
			break
		}
	}
	return 0
}

// Open materializes the file and keeps the local copy open for reads.
func (fs *PhotoFS) Open(path string, flags int) (int, uint64) {
	if flags&(fuse.O_WRONLY|fuse.O_RDWR) != 0 {
		return -fuse.EROFS, ^uint64(0)
	}
	h, err := fs.Drive.Resolve(fs.ctx, path)
	if err != nil {
		return fs.errno("open", path, err), ^uint64(0)
	}
	local, err := fs.Drive.GetContentPath(fs.ctx, h)
	if err != nil {
		return fs.errno("open", path, err), ^uint64(0)
	}
	f, err := os.Open(local)
	if err != nil {
		return fs.errno("open", path, err), ^uint64(0)
	}

	fs.mu.Lock()
	fh := fs.nextFh
	fs.nextFh++
	fs.handles[fh] = f
	fs.mu.Unlock()
	return 0, fh
}

// Read (Cat file)
func (fs *PhotoFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	fs.mu.Lock()
	f, ok := fs.handles[fh]
	fs.mu.Unlock()
	if !ok {
		return -fuse.EBADF
	}

	n, err := f.ReadAt(buff, ofst)
	if err != nil && !errors.Is(err, io.EOF) {
		return fs.errno("read", path, err)
	}
	return n
}

// Release closes the local copy.
func (fs *PhotoFS) Release(path string, fh uint64) int {
	fs.mu.Lock()
	f, ok := fs.handles[fh]
	delete(fs.handles, fh)
	fs.mu.Unlock()
	if !ok {
		return -fuse.EBADF
	}
	_ = f.Close()
	return 0
}

// errno maps facade errors onto negated FUSE error codes.
func (fs *PhotoFS) errno(op, path string, err error) int {
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, graph.ErrNotFound):
		return -fuse.ENOENT
	case errors.Is(err, graph.ErrNotDirectory):
		return -fuse.ENOTDIR
	case errors.Is(err, graph.ErrIsDirectory):
		return -fuse.EISDIR
	case errors.Is(err, remote.ErrRemote):
		fs.log.Warn("remote failure", zap.String("op", op), zap.String("path", path), zap.Error(err))
		return -fuse.EIO
	default:
		fs.log.Error("fuse op failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
		return -fuse.EIO
	}
}
