// Package nfsmount provides an NFS-based mount backend for photoman.
// It adapts the Drive facade to billy.Filesystem for use with
// willscott/go-nfs, as an alternative to the FUSE mount layer.
package nfsmount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/agentic-research/photoman/internal/drive"
	"github.com/agentic-research/photoman/internal/graph"
)

const statusFile = "/_status.json"

var errReadOnly = fmt.Errorf("read-only filesystem")

// DriveFS adapts a Drive to billy.Filesystem. Directories are listed on
// first access; a leaf is materialized when it is opened or looked up
// directly, since NFS clients trust the size returned there.
type DriveFS struct {
	drive     *drive.Drive
	ctx       context.Context
	mountTime time.Time
}

// NewDriveFS creates a read-only billy.Filesystem backed by d. ctx bounds
// every remote call made on behalf of NFS clients.
func NewDriveFS(ctx context.Context, d *drive.Drive) *DriveFS {
	return &DriveFS{drive: d, ctx: ctx, mountTime: time.Now()}
}

// --- billy.Basic ---

func (fs *DriveFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *DriveFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *DriveFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	filename = cleanPath(filename)

	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, errReadOnly
	}

	// Virtual: _status.json
	if filename == statusFile {
		return &bytesFile{name: "_status.json", data: fs.status()}, nil
	}

	h, err := fs.drive.Resolve(fs.ctx, filename)
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	local, err := fs.drive.GetContentPath(fs.ctx, h)
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	f, err := os.Open(local)
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	return &localFile{name: filename, f: f}, nil
}

func (fs *DriveFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *DriveFS) Rename(oldpath, newpath string) error {
	return errReadOnly
}

func (fs *DriveFS) Remove(filename string) error {
	return errReadOnly
}

func (fs *DriveFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *DriveFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *DriveFS) ReadDir(path string) ([]os.FileInfo, error) {
	path = cleanPath(path)

	h, err := fs.drive.Resolve(fs.ctx, path)
	if err != nil {
		return nil, pathError("readdir", path, err)
	}
	entries, err := fs.drive.Children(fs.ctx, h)
	if err != nil {
		return nil, pathError("readdir", path, err)
	}

	infos := make([]os.FileInfo, 0, len(entries)+1)

	// Virtual files at root
	if path == "/" {
		infos = append(infos, &staticFileInfo{
			name:    "_status.json",
			size:    int64(len(fs.status())),
			mode:    0o444,
			modTime: fs.mountTime,
		})
	}

	for _, e := range entries {
		if e.Name == "" || strings.Contains(e.Name, "/") {
			continue
		}
		infos = append(infos, fs.entryInfo(e))
	}
	return infos, nil
}

func (fs *DriveFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *DriveFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)

	// Root
	if filename == "/" {
		return &staticFileInfo{
			name:    "/",
			mode:    os.ModeDir | 0o555,
			modTime: fs.mountTime,
		}, nil
	}

	// Virtual: _status.json
	if filename == statusFile {
		return &staticFileInfo{
			name:    "_status.json",
			size:    int64(len(fs.status())),
			mode:    0o444,
			modTime: fs.mountTime,
		}, nil
	}

	h, err := fs.drive.Resolve(fs.ctx, filename)
	if err != nil {
		return nil, pathError("lstat", filename, err)
	}
	e, err := fs.drive.Entry(h)
	if err != nil {
		return nil, pathError("lstat", filename, err)
	}
	if !e.IsDir && !e.Content.Loaded() {
		if _, err := fs.drive.GetContentPath(fs.ctx, h); err != nil {
			return nil, pathError("lstat", filename, err)
		}
		if e, err = fs.drive.Entry(h); err != nil {
			return nil, pathError("lstat", filename, err)
		}
	}
	return fs.entryInfo(e), nil
}

func (fs *DriveFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *DriveFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *DriveFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *DriveFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *DriveFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// --- internals ---

// status renders the virtual status file.
func (fs *DriveFS) status() []byte {
	b, _ := json.MarshalIndent(struct {
		Entries    int    `json:"entries"`
		ContentDir string `json:"content_dir"`
	}{
		Entries:    fs.drive.Tree().Len(),
		ContentDir: fs.drive.Pipeline().Dir(),
	}, "", "  ")
	return append(b, '\n')
}

// entryInfo converts an entry to os.FileInfo. A leaf's size is known only
// once it has been materialized.
func (fs *DriveFS) entryInfo(e graph.Entry) os.FileInfo {
	if e.IsDir {
		return &staticFileInfo{name: e.Name, mode: os.ModeDir | 0o555, modTime: fs.mountTime}
	}
	info := &staticFileInfo{name: e.Name, mode: 0o444, modTime: fs.mountTime}
	if e.Content.Loaded() {
		if fi, err := os.Stat(e.Content.Path()); err == nil {
			info.size = fi.Size()
			info.modTime = fi.ModTime()
		}
	}
	return info
}

// pathError converts facade errors into the *os.PathError values go-nfs
// maps onto NFS status codes.
func pathError(op, path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, graph.ErrNotFound):
		err = os.ErrNotExist
	case errors.Is(err, graph.ErrNotDirectory):
		err = fmt.Errorf("not a directory: %w", err)
	case errors.Is(err, graph.ErrIsDirectory):
		err = fmt.Errorf("is a directory: %w", err)
	}
	return &os.PathError{Op: op, Path: path, Err: err}
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	path = filepath.Clean("/" + path)
	if path == "." {
		return "/"
	}
	return path
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() interface{}   { return nil }

// Compile-time interface checks.
var (
	_ billy.Filesystem = (*DriveFS)(nil)
	_ billy.Capable    = (*DriveFS)(nil)
)

// Verify file types satisfy billy.File.
var (
	_ billy.File = (*localFile)(nil)
	_ billy.File = (*bytesFile)(nil)
)
