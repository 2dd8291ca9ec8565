package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"
)

const smbDefaultPort = "445"

// errNotConnected is returned when an operation is attempted on an adapter
// with no live session.
var errNotConnected = errors.New("session not connected")

// smbAdapter implements Adapter over SMB2/3 shares. The first segment of
// the configured path names the share to mount; the remainder becomes the
// path prefix inside the share.
type smbAdapter struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
	prefix  string
}

func (a *smbAdapter) Connect(ctx context.Context, cfg Config) error {
	share, prefix := splitShare(cfg.Path)
	if share == "" {
		return wrapErr("smb", "connect", cfg.Path, ErrConfig)
	}

	addr := hostPort(cfg.Server, smbDefaultPort)

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return wrapErr("smb", "connect", addr, err)
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     cfg.Username,
			Password: cfg.Password,
		},
	}

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		conn.Close()

		return wrapErr("smb", "connect", addr, err)
	}

	mounted, err := session.Mount(share)
	if err != nil {
		session.Logoff()
		conn.Close()

		return wrapErr("smb", "mount", share, err)
	}

	a.conn = conn
	a.session = session
	a.share = mounted
	a.prefix = prefix

	return nil
}

func (a *smbAdapter) Disconnect() error {
	if a.session == nil {
		return nil
	}

	var umountErr, logoffErr error

	if a.share != nil {
		umountErr = a.share.Umount()
	}

	logoffErr = a.session.Logoff()

	if a.conn != nil {
		a.conn.Close()
	}

	a.share = nil
	a.session = nil
	a.conn = nil

	if umountErr != nil {
		return wrapErr("smb", "disconnect", "", umountErr)
	}

	return wrapErr("smb", "disconnect", "", logoffErr)
}

func (a *smbAdapter) List(_ context.Context, path string) ([]FileInfo, error) {
	if a.share == nil {
		return nil, wrapErr("smb", "list", path, errNotConnected)
	}

	entries, err := a.share.ReadDir(a.rel(path))
	if err != nil {
		return nil, wrapErr("smb", "list", path, err)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, FileInfo{
			Name:    e.Name(),
			Path:    JoinPath(path, e.Name()),
			Size:    e.Size(),
			ModTime: e.ModTime(),
			IsDir:   e.IsDir(),
		})
	}

	return infos, nil
}

func (a *smbAdapter) Read(_ context.Context, path string, offset int64) (io.ReadCloser, error) {
	if a.share == nil {
		return nil, wrapErr("smb", "read", path, errNotConnected)
	}

	f, err := a.share.Open(a.rel(path))
	if err != nil {
		return nil, wrapErr("smb", "read", path, err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()

			return nil, wrapErr("smb", "read", path, err)
		}
	}

	return f, nil
}

func (a *smbAdapter) Write(_ context.Context, path string, offset int64) (io.WriteCloser, error) {
	if a.share == nil {
		return nil, wrapErr("smb", "write", path, errNotConnected)
	}

	f, err := a.share.OpenFile(a.rel(path), os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, wrapErr("smb", "write", path, err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()

			return nil, wrapErr("smb", "write", path, err)
		}
	} else if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, wrapErr("smb", "write", path, err)
	}

	return f, nil
}

func (a *smbAdapter) Stat(_ context.Context, path string) (*FileInfo, error) {
	if a.share == nil {
		return nil, wrapErr("smb", "stat", path, errNotConnected)
	}

	info, err := a.share.Stat(a.rel(path))
	if err != nil {
		return nil, wrapErr("smb", "stat", path, err)
	}

	return &FileInfo{
		Name:    info.Name(),
		Path:    NormalizePath(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (a *smbAdapter) Delete(_ context.Context, path string) error {
	if a.share == nil {
		return wrapErr("smb", "delete", path, errNotConnected)
	}

	return wrapErr("smb", "delete", path, a.share.Remove(a.rel(path)))
}

func (a *smbAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsRangedTransfer: true}
}

// rel converts a normalized absolute path into a share-relative path.
func (a *smbAdapter) rel(path string) string {
	p := strings.TrimPrefix(NormalizePath(path), "/")
	if a.prefix != "" {
		p = strings.TrimPrefix(NormalizePath(a.prefix+"/"+p), "/")
	}

	if p == "" {
		p = "."
	}

	return p
}

// splitShare separates a configured smb path into share name and prefix.
// "media/photos" mounts share "media" with prefix "photos".
func splitShare(p string) (share, prefix string) {
	p = strings.Trim(NormalizePath(p), "/")
	if p == "" || p == "." {
		return "", ""
	}

	parts := strings.SplitN(p, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}

	return parts[0], parts[1]
}

// hostPort appends the protocol's default port when the server string has none.
func hostPort(server, defaultPort string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}

	return net.JoinHostPort(server, defaultPort)
}

// connectTimeout returns the configured timeout or a fallback.
func connectTimeout(cfg Config) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return cfg.ConnectTimeout
	}

	return 10 * time.Second
}
