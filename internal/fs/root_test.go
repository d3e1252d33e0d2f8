package fs

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/agentic-research/photoman/api"
	"github.com/agentic-research/photoman/internal/drive"
	"github.com/agentic-research/photoman/internal/materialize"
	"github.com/agentic-research/photoman/internal/remote"
)

// newTestFS creates a PhotoFS over an in-memory remote:
//
//	/Pics/c.jpg
//	/Pics/b.NEF
//	/a.jpg
//	/broken.jpg (remote fails)
func newTestFS(t *testing.T) (*PhotoFS, *remote.Memory) {
	t.Helper()
	r := remote.NewMemory().
		AddFolder(api.RootID, "d1", "Pics").
		AddFile(api.RootID, "f1", "a.jpg", "image/jpeg", []byte("hello photo")).
		AddFile(api.RootID, "f9", "broken.jpg", "image/jpeg", []byte("x")).
		AddFile("d1", "f3", "c.jpg", "image/jpeg", []byte("c")).
		AddFile("d1", "f2", "b.NEF", "image/x-nikon-nef", []byte("raw"))
	r.Fail("f9", errors.New("503"))

	dir := t.TempDir()
	d, err := drive.Open(context.Background(),
		filepath.Join(dir, "index.db"), filepath.Join(dir, "cache"), r,
		drive.WithPipelineOptions(materialize.WithRawKinds()))
	if err != nil {
		t.Fatalf("drive.Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return NewPhotoFS(context.Background(), d), r
}

func TestPhotoFS_Getattr(t *testing.T) {
	pfs, _ := newTestFS(t)

	tests := []struct {
		name     string
		path     string
		wantErr  int
		wantMode uint32
	}{
		{"stat root directory", "/", 0, fuse.S_IFDIR | 0o555},
		{"stat subdirectory", "/Pics", 0, fuse.S_IFDIR | 0o555},
		{"stat file", "/Pics/c.jpg", 0, fuse.S_IFREG | 0o444},
		{"stat missing", "/Pics/nope.jpg", -fuse.ENOENT, 0},
		{"stat under a file", "/a.jpg/x", -fuse.ENOTDIR, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var st fuse.Stat_t
			errCode := pfs.Getattr(tt.path, &st, 0)
			if errCode != tt.wantErr {
				t.Fatalf("Getattr() errCode = %v, want %v", errCode, tt.wantErr)
			}
			if errCode == 0 && st.Mode != tt.wantMode {
				t.Errorf("Getattr() mode = %o, want %o", st.Mode, tt.wantMode)
			}
		})
	}
}

func TestPhotoFS_Readdir(t *testing.T) {
	pfs, r := newTestFS(t)

	var names []string
	fill := func(name string, stat *fuse.Stat_t, ofst int64) bool {
		names = append(names, name)
		return true
	}
	if errCode := pfs.Readdir("/Pics", fill, 0, 0); errCode != 0 {
		t.Fatalf("Readdir() errCode = %v", errCode)
	}
	sort.Strings(names)
	want := []string{".", "..", "b.NEF", "c.jpg"}
	if len(names) != len(want) {
		t.Fatalf("Readdir() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Readdir()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	names = nil
	_ = pfs.Readdir("/Pics", fill, 0, 0)
	if got := r.Lists("d1"); got != 1 {
		t.Errorf("folder listed %d times, want 1", got)
	}

	if errCode := pfs.Readdir("/a.jpg", fill, 0, 0); errCode != -fuse.ENOTDIR {
		t.Errorf("Readdir(file) errCode = %v, want %v", errCode, -fuse.ENOTDIR)
	}
}

func TestPhotoFS_OpenReadRelease(t *testing.T) {
	pfs, r := newTestFS(t)

	errCode, fh := pfs.Open("/a.jpg", fuse.O_RDONLY)
	if errCode != 0 {
		t.Fatalf("Open() errCode = %v", errCode)
	}

	buf := make([]byte, 5)
	if n := pfs.Read("/a.jpg", buf, 6, fh); n != 5 || string(buf[:n]) != "photo" {
		t.Errorf("Read() = %d %q, want 5 %q", n, buf[:n], "photo")
	}
	if n := pfs.Read("/a.jpg", buf, 100, fh); n != 0 {
		t.Errorf("Read() past EOF = %d, want 0", n)
	}
	if errCode := pfs.Release("/a.jpg", fh); errCode != 0 {
		t.Errorf("Release() errCode = %v", errCode)
	}
	if n := pfs.Read("/a.jpg", buf, 0, fh); n != -fuse.EBADF {
		t.Errorf("Read() after release = %d, want %d", n, -fuse.EBADF)
	}

	var st fuse.Stat_t
	if errCode := pfs.Getattr("/a.jpg", &st, 0); errCode != 0 || st.Size != int64(len("hello photo")) {
		t.Errorf("Getattr() after open = %d size %d", errCode, st.Size)
	}

	_, _ = pfs.Open("/a.jpg", fuse.O_RDONLY)
	if got := r.Fetches("f1"); got != 1 {
		t.Errorf("fetched %d times, want 1", got)
	}
}

func TestPhotoFS_OpenErrors(t *testing.T) {
	pfs, _ := newTestFS(t)

	tests := []struct {
		name    string
		path    string
		flags   int
		wantErr int
	}{
		{"open directory returns EISDIR", "/Pics", fuse.O_RDONLY, -fuse.EISDIR},
		{"open missing returns ENOENT", "/nope", fuse.O_RDONLY, -fuse.ENOENT},
		{"open for write returns EROFS", "/a.jpg", fuse.O_RDWR, -fuse.EROFS},
		{"remote failure returns EIO", "/broken.jpg", fuse.O_RDONLY, -fuse.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errCode, _ := pfs.Open(tt.path, tt.flags)
			if errCode != tt.wantErr {
				t.Errorf("Open() errCode = %v, want %v", errCode, tt.wantErr)
			}
		})
	}
}

func TestMountOptionsAreReadOnly(t *testing.T) {
	opts := MountOptions()
	if len(opts) < 2 || opts[0] != "-o" || opts[1] != "ro" {
		t.Errorf("MountOptions() = %v, want leading -o ro", opts)
	}
}
