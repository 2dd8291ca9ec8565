package protocol

import (
	"context"
	"io"
	"strings"

	"github.com/studio-b12/gowebdav"
)

// webdavAdapter implements Adapter over WebDAV. Reads support Range
// requests, but PUT replaces the whole resource, so ranged transfer is not
// advertised and resumed transfers restart from zero.
type webdavAdapter struct {
	client *gowebdav.Client
	root   string
}

func (a *webdavAdapter) Connect(ctx context.Context, cfg Config) error {
	uri := cfg.Server
	if !strings.Contains(uri, "://") {
		uri = "http://" + uri
	}

	client := gowebdav.NewClient(uri, cfg.Username, cfg.Password)
	client.SetTimeout(connectTimeout(cfg))

	if err := client.Connect(); err != nil {
		return wrapErr("webdav", "connect", uri, err)
	}

	a.client = client
	a.root = NormalizePath(cfg.Path)

	return nil
}

func (a *webdavAdapter) Disconnect() error {
	// HTTP is sessionless; dropping the client is enough.
	a.client = nil

	return nil
}

func (a *webdavAdapter) List(_ context.Context, path string) ([]FileInfo, error) {
	if a.client == nil {
		return nil, wrapErr("webdav", "list", path, errNotConnected)
	}

	entries, err := a.client.ReadDir(a.abs(path))
	if err != nil {
		return nil, wrapErr("webdav", "list", path, err)
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

func (a *webdavAdapter) Read(_ context.Context, path string, offset int64) (io.ReadCloser, error) {
	if a.client == nil {
		return nil, wrapErr("webdav", "read", path, errNotConnected)
	}

	if offset > 0 {
		r, err := a.client.ReadStreamRange(a.abs(path), offset, 0)
		if err != nil {
			return nil, wrapErr("webdav", "read", path, err)
		}

		return r, nil
	}

	r, err := a.client.ReadStream(a.abs(path))
	if err != nil {
		return nil, wrapErr("webdav", "read", path, err)
	}

	return r, nil
}

func (a *webdavAdapter) Write(_ context.Context, path string, offset int64) (io.WriteCloser, error) {
	if a.client == nil {
		return nil, wrapErr("webdav", "write", path, errNotConnected)
	}

	if offset > 0 {
		// PUT has no byte-range form; Capabilities reports this so the
		// transfer engine restarts from zero instead.
		return nil, wrapErr("webdav", "write", path, ErrProtocol)
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	abs := a.abs(path)
	client := a.client

	go func() {
		err := client.WriteStream(abs, pr, 0o644)
		pr.CloseWithError(err)
		done <- err
	}()

	return &webdavWriter{pw: pw, done: done, path: path}, nil
}

// webdavWriter adapts the WriteStream goroutine to io.WriteCloser.
type webdavWriter struct {
	pw   *io.PipeWriter
	done chan error
	path string
}

func (w *webdavWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *webdavWriter) Close() error {
	w.pw.Close()

	return wrapErr("webdav", "write", w.path, <-w.done)
}

func (a *webdavAdapter) Stat(_ context.Context, path string) (*FileInfo, error) {
	if a.client == nil {
		return nil, wrapErr("webdav", "stat", path, errNotConnected)
	}

	info, err := a.client.Stat(a.abs(path))
	if err != nil {
		return nil, wrapErr("webdav", "stat", path, err)
	}

	return &FileInfo{
		Name:    info.Name(),
		Path:    NormalizePath(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (a *webdavAdapter) Delete(_ context.Context, path string) error {
	if a.client == nil {
		return wrapErr("webdav", "delete", path, errNotConnected)
	}

	return wrapErr("webdav", "delete", path, a.client.Remove(a.abs(path)))
}

func (a *webdavAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsRangedTransfer: false}
}

func (a *webdavAdapter) abs(path string) string {
	if a.root == "" || a.root == "/" {
		return NormalizePath(path)
	}

	return JoinPath(a.root, path)
}
