package protocol

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Config holds everything an adapter needs to open a session.
// Password may be empty for anonymous/guest access.
type Config struct {
	Protocol string // smb | ftp | sftp | webdav
	Server   string // host or host:port
	Path     string // remote root path (share name for smb)
	Username string
	Password string

	// ConnectTimeout bounds the initial dial. Zero means the adapter's
	// library default.
	ConnectTimeout time.Duration
}

// FileInfo describes a remote file or directory.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Capabilities declares what a protocol implementation can do. The transfer
// engine branches on these flags, never on the protocol name, so new
// protocols slot in without touching the engine.
type Capabilities struct {
	// SupportsRangedTransfer is true when both reads and writes can start
	// at an arbitrary byte offset. Protocols without it restart transfers
	// from zero on resume.
	SupportsRangedTransfer bool
}

// Adapter is the uniform capability interface each supported file-access
// protocol implements. Connect must be called before any other operation;
// Disconnect is idempotent. Implementations are safe for use by one
// goroutine at a time; callers serialize access per session.
type Adapter interface {
	Connect(ctx context.Context, cfg Config) error
	Disconnect() error
	List(ctx context.Context, path string) ([]FileInfo, error)
	// Read returns a stream positioned at offset. Offset zero is always
	// valid; nonzero offsets require SupportsRangedTransfer.
	Read(ctx context.Context, path string, offset int64) (io.ReadCloser, error)
	// Write returns a stream that appends from offset. The caller must
	// Close it to flush; offset semantics match Read.
	Write(ctx context.Context, path string, offset int64) (io.WriteCloser, error)
	Stat(ctx context.Context, path string) (*FileInfo, error)
	Delete(ctx context.Context, path string) error
	Capabilities() Capabilities
}

// factories maps protocol tags to adapter constructors.
var factories = map[string]func() Adapter{
	"smb":    func() Adapter { return &smbAdapter{} },
	"ftp":    func() Adapter { return &ftpAdapter{} },
	"sftp":   func() Adapter { return &sftpAdapter{} },
	"webdav": func() Adapter { return &webdavAdapter{} },
}

// New returns an unconnected adapter for the given protocol tag.
func New(proto string) (Adapter, error) {
	factory, ok := factories[proto]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q: %w", proto, ErrConfig)
	}

	return factory(), nil
}

// Protocols returns the supported protocol tags, for validation and help text.
func Protocols() []string {
	return []string{"ftp", "sftp", "smb", "webdav"}
}
