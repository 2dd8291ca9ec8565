package protocol

import (
	"context"
	"io"
	gopath "path"
	"strings"

	"github.com/jlaffaye/ftp"
)

const ftpDefaultPort = "21"

// ftpAdapter implements Adapter over plain FTP. One control connection per
// session; the server's REST command provides ranged reads and writes.
type ftpAdapter struct {
	conn *ftp.ServerConn
	root string
}

func (a *ftpAdapter) Connect(ctx context.Context, cfg Config) error {
	addr := hostPort(cfg.Server, ftpDefaultPort)

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(connectTimeout(cfg)),
	)
	if err != nil {
		return wrapErr("ftp", "connect", addr, err)
	}

	user, pass := cfg.Username, cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}

	if err := conn.Login(user, pass); err != nil {
		conn.Quit()

		return wrapErr("ftp", "login", addr, err)
	}

	a.conn = conn
	a.root = NormalizePath(cfg.Path)

	return nil
}

func (a *ftpAdapter) Disconnect() error {
	if a.conn == nil {
		return nil
	}

	err := a.conn.Quit()
	a.conn = nil

	return wrapErr("ftp", "disconnect", "", err)
}

func (a *ftpAdapter) List(_ context.Context, path string) ([]FileInfo, error) {
	if a.conn == nil {
		return nil, wrapErr("ftp", "list", path, errNotConnected)
	}

	entries, err := a.conn.List(a.abs(path))
	if err != nil {
		return nil, wrapErr("ftp", "list", path, err)
	}

	infos := make([]FileInfo, 0, len(entries))

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}

		infos = append(infos, FileInfo{
			Name:    e.Name,
			Path:    JoinPath(path, e.Name),
			Size:    int64(e.Size),
			ModTime: e.Time,
			IsDir:   e.Type == ftp.EntryTypeFolder,
		})
	}

	return infos, nil
}

func (a *ftpAdapter) Read(_ context.Context, path string, offset int64) (io.ReadCloser, error) {
	if a.conn == nil {
		return nil, wrapErr("ftp", "read", path, errNotConnected)
	}

	resp, err := a.conn.RetrFrom(a.abs(path), uint64(offset))
	if err != nil {
		return nil, wrapErr("ftp", "read", path, err)
	}

	return resp, nil
}

func (a *ftpAdapter) Write(_ context.Context, path string, offset int64) (io.WriteCloser, error) {
	if a.conn == nil {
		return nil, wrapErr("ftp", "write", path, errNotConnected)
	}

	// StorFrom pulls from a reader, so bridge the push-style Write contract
	// through a pipe. Close surfaces the transfer result.
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	abs := a.abs(path)

	go func() {
		err := a.conn.StorFrom(abs, pr, uint64(offset))
		pr.CloseWithError(err)
		done <- err
	}()

	return &ftpWriter{pw: pw, done: done, path: path}, nil
}

// ftpWriter adapts the StorFrom goroutine to io.WriteCloser.
type ftpWriter struct {
	pw   *io.PipeWriter
	done chan error
	path string
}

func (w *ftpWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *ftpWriter) Close() error {
	w.pw.Close()

	return wrapErr("ftp", "write", w.path, <-w.done)
}

func (a *ftpAdapter) Stat(_ context.Context, path string) (*FileInfo, error) {
	if a.conn == nil {
		return nil, wrapErr("ftp", "stat", path, errNotConnected)
	}

	norm := NormalizePath(path)
	if norm == "/" {
		return &FileInfo{Name: "/", Path: "/", IsDir: true}, nil
	}

	// FTP has no portable stat; list the parent and match the entry name.
	parent, name := gopath.Split(a.abs(norm))

	entries, err := a.conn.List(strings.TrimSuffix(parent, "/"))
	if err != nil {
		return nil, wrapErr("ftp", "stat", path, err)
	}

	for _, e := range entries {
		if e.Name != name {
			continue
		}

		return &FileInfo{
			Name:    e.Name,
			Path:    norm,
			Size:    int64(e.Size),
			ModTime: e.Time,
			IsDir:   e.Type == ftp.EntryTypeFolder,
		}, nil
	}

	return nil, wrapErr("ftp", "stat", path, ErrNotFound)
}

func (a *ftpAdapter) Delete(_ context.Context, path string) error {
	if a.conn == nil {
		return wrapErr("ftp", "delete", path, errNotConnected)
	}

	return wrapErr("ftp", "delete", path, a.conn.Delete(a.abs(path)))
}

func (a *ftpAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsRangedTransfer: true}
}

// abs resolves a request path against the configured root.
func (a *ftpAdapter) abs(path string) string {
	if a.root == "" || a.root == "/" {
		return NormalizePath(path)
	}

	return JoinPath(a.root, path)
}
