package protocol

import (
	"context"
	"io"
	"net"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const sftpDefaultPort = "22"

// sftpAdapter implements Adapter over SFTP (SSH file transfer).
type sftpAdapter struct {
	sshConn *ssh.Client
	client  *sftp.Client
	root    string
}

func (a *sftpAdapter) Connect(ctx context.Context, cfg Config) error {
	addr := hostPort(cfg.Server, sftpDefaultPort)

	sshCfg := &ssh.ClientConfig{
		User:    cfg.Username,
		Auth:    []ssh.AuthMethod{ssh.Password(cfg.Password)},
		Timeout: connectTimeout(cfg),
		// LAN drives are configured by address; there is no managed
		// known_hosts store to verify against.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
	}

	dialer := net.Dialer{Timeout: connectTimeout(cfg)}

	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return wrapErr("sftp", "connect", addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, sshCfg)
	if err != nil {
		raw.Close()

		return wrapErr("sftp", "connect", addr, err)
	}

	sshConn := ssh.NewClient(conn, chans, reqs)

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()

		return wrapErr("sftp", "connect", addr, err)
	}

	a.sshConn = sshConn
	a.client = client
	a.root = NormalizePath(cfg.Path)

	return nil
}

func (a *sftpAdapter) Disconnect() error {
	if a.client == nil {
		return nil
	}

	clientErr := a.client.Close()
	sshErr := a.sshConn.Close()
	a.client = nil
	a.sshConn = nil

	if clientErr != nil {
		return wrapErr("sftp", "disconnect", "", clientErr)
	}

	return wrapErr("sftp", "disconnect", "", sshErr)
}

func (a *sftpAdapter) List(_ context.Context, path string) ([]FileInfo, error) {
	if a.client == nil {
		return nil, wrapErr("sftp", "list", path, errNotConnected)
	}

	entries, err := a.client.ReadDir(a.abs(path))
	if err != nil {
		return nil, wrapErr("sftp", "list", path, err)
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

func (a *sftpAdapter) Read(_ context.Context, path string, offset int64) (io.ReadCloser, error) {
	if a.client == nil {
		return nil, wrapErr("sftp", "read", path, errNotConnected)
	}

	f, err := a.client.Open(a.abs(path))
	if err != nil {
		return nil, wrapErr("sftp", "read", path, err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()

			return nil, wrapErr("sftp", "read", path, err)
		}
	}

	return f, nil
}

func (a *sftpAdapter) Write(_ context.Context, path string, offset int64) (io.WriteCloser, error) {
	if a.client == nil {
		return nil, wrapErr("sftp", "write", path, errNotConnected)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}

	f, err := a.client.OpenFile(a.abs(path), flags)
	if err != nil {
		return nil, wrapErr("sftp", "write", path, err)
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()

			return nil, wrapErr("sftp", "write", path, err)
		}
	}

	return f, nil
}

func (a *sftpAdapter) Stat(_ context.Context, path string) (*FileInfo, error) {
	if a.client == nil {
		return nil, wrapErr("sftp", "stat", path, errNotConnected)
	}

	info, err := a.client.Stat(a.abs(path))
	if err != nil {
		return nil, wrapErr("sftp", "stat", path, err)
	}

	return &FileInfo{
		Name:    info.Name(),
		Path:    NormalizePath(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (a *sftpAdapter) Delete(_ context.Context, path string) error {
	if a.client == nil {
		return wrapErr("sftp", "delete", path, errNotConnected)
	}

	return wrapErr("sftp", "delete", path, a.client.Remove(a.abs(path)))
}

func (a *sftpAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsRangedTransfer: true}
}

func (a *sftpAdapter) abs(path string) string {
	if a.root == "" || a.root == "/" {
		return NormalizePath(path)
	}

	return JoinPath(a.root, path)
}
