// Copyright (c) 2026 Sudokeeper Team
// Sudokeeper - sudoers policy management for signage hosts
// This source code is licensed under the MIT license found in the LICENSE file.

package deploy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/digsig/sudokeeper/internal/db"
	"github.com/digsig/sudokeeper/internal/policy"
	"github.com/digsig/sudokeeper/internal/verify"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// DefaultConnectionTimeout bounds the SSH handshake.
const DefaultConnectionTimeout = 10 * time.Second

// agentSockEnv names the variable OpenSSH exports for the running agent.
const agentSockEnv = "SSH_AUTH_SOCK"

var (
	// ErrUnknownHostKey is returned when no trusted key is stored for a host.
	ErrUnknownHostKey = errors.New("unknown host key")
	// ErrHostKeyMismatch is returned when a host presents a different key
	// than the trusted one.
	ErrHostKeyMismatch = errors.New("host key mismatch")
	// ErrNoAuthMethod is returned when neither a private key nor an agent
	// is available.
	ErrNoAuthMethod = errors.New("no authentication method available")
	// ErrNotRootOwned is returned when the staged fragment cannot be given
	// to root. sudo ignores drop-ins owned by anyone else.
	ErrNotRootOwned = errors.New("fragment cannot be owned by root")
)

// HostKeyStore looks up trusted host keys.
type HostKeyStore interface {
	GetKnownHostKey(ctx context.Context, hostname string) (string, error)
}

// remoteFS is the subset of SFTP operations the deployer uses.
type remoteFS interface {
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Stat(path string) (fs.FileInfo, error)
	Chmod(path string, mode fs.FileMode) error
	Chown(path string, uid, gid int) error
	PosixRename(oldpath, newpath string) error
	Remove(path string) error
	Close() error
}

// remoteExec runs a shell command on the remote host.
type remoteExec interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
}

type sftpFS struct{ c *sftp.Client }

func (s sftpFS) Create(p string) (io.WriteCloser, error) { return s.c.Create(p) }
func (s sftpFS) Open(p string) (io.ReadCloser, error)    { return s.c.Open(p) }
func (s sftpFS) Stat(p string) (fs.FileInfo, error)      { return s.c.Stat(p) }
func (s sftpFS) Chmod(p string, m fs.FileMode) error     { return s.c.Chmod(p, m) }
func (s sftpFS) Chown(p string, uid, gid int) error      { return s.c.Chown(p, uid, gid) }
func (s sftpFS) PosixRename(o, n string) error           { return s.c.PosixRename(o, n) }
func (s sftpFS) Remove(p string) error                   { return s.c.Remove(p) }
func (s sftpFS) Close() error                            { return s.c.Close() }

type sshExec struct{ c *ssh.Client }

// Run executes cmd in a fresh session. The session is closed when ctx is
// cancelled.
func (s sshExec) Run(ctx context.Context, cmd string) ([]byte, error) {
	sess, err := s.c.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	var buf bytes.Buffer
	sess.Stdout = &buf
	sess.Stderr = &buf
	err = sess.Run(cmd)
	if ctx.Err() != nil {
		return buf.Bytes(), ctx.Err()
	}
	return buf.Bytes(), err
}

// ConnectOptions configures NewDeployer.
type ConnectOptions struct {
	// PrivateKey is a PEM or OpenSSH encoded key. When empty, or when it
	// is refused, the SSH agent is used.
	PrivateKey []byte
	Passphrase []byte
	HostKeys   HostKeyStore
	Timeout    time.Duration
}

// Deployer installs the sudoers fragment on one remote host.
type Deployer struct {
	client *ssh.Client
	fs     remoteFS
	exec   remoteExec
}

// hostKeyCallback checks presented keys against the trusted store.
func hostKeyCallback(ctx context.Context, store HostKeyStore) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			host = hostname
		}
		presented := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))

		known, err := store.GetKnownHostKey(ctx, host)
		if errors.Is(err, db.ErrNotFound) || (err == nil && known == "") {
			return fmt.Errorf("%w for %s: run 'sudokeeper host trust %s' first", ErrUnknownHostKey, host, host)
		}
		if err != nil {
			return fmt.Errorf("failed to query known hosts: %w", err)
		}
		if strings.TrimSpace(known) != presented {
			return fmt.Errorf("%w for %s: remote presented %s", ErrHostKeyMismatch, host, presented)
		}
		return nil
	}
}

func dialAddr(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, "22")
	}
	return addr
}

// dial connects and runs the SSH handshake. The handshake is bounded by
// cfg.Timeout and aborted when ctx is cancelled.
func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		// ctx fired during the handshake and the conn is already closed.
		if err == nil {
			_ = c.Close()
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// ParsePrivateKey parses key, decrypting it with passphrase when set. An
// encrypted key without passphrase yields *ssh.PassphraseMissingError.
func ParsePrivateKey(key, passphrase []byte) (ssh.Signer, error) {
	if len(passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(key, passphrase)
	}
	return ssh.ParsePrivateKey(key)
}

// NewDeployer connects to addr as user. The private key is tried first;
// an authentication failure falls back to the SSH agent.
func NewDeployer(ctx context.Context, addr, user string, opts ConnectOptions) (*Deployer, error) {
	if opts.HostKeys == nil {
		return nil, errors.New("a host key store is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultConnectionTimeout
	}
	addr = dialAddr(addr)
	callback := hostKeyCallback(ctx, opts.HostKeys)

	var authErr error
	if len(opts.PrivateKey) > 0 {
		signer, err := ParsePrivateKey(opts.PrivateKey, opts.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}
		client, err := dial(ctx, addr, &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: callback,
			Timeout:         opts.Timeout,
		})
		if err == nil {
			return newDeployer(client)
		}
		if !strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("connection to %s failed: %w", addr, err)
		}
		authErr = err
	}

	agentClient := getSSHAgent()
	if agentClient == nil {
		if authErr != nil {
			return nil, fmt.Errorf("private key authentication failed and no SSH agent is available: %w", authErr)
		}
		return nil, ErrNoAuthMethod
	}
	client, err := dial(ctx, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: callback,
		Timeout:         opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connection to %s with ssh agent failed: %w", addr, err)
	}
	return newDeployer(client)
}

func newDeployer(client *ssh.Client) (*Deployer, error) {
	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &Deployer{client: client, fs: sftpFS{sc}, exec: sshExec{client}}, nil
}

// tempName returns a sibling of target that sudo ignores: files in
// sudoers.d whose name contains a dot are skipped.
func tempName(target string, now time.Time) string {
	return path.Join(path.Dir(target), fmt.Sprintf(".%s.sudokeeper.%d", path.Base(target), now.UnixNano()))
}

// Install renders p, uploads it next to target, optionally has visudo
// check it, and renames it into place with mode 0440. It returns the hash
// of the installed content.
func (d *Deployer) Install(ctx context.Context, p *policy.Policy, target string, visudo bool) (string, error) {
	if err := p.Check(); err != nil {
		return "", err
	}
	content := []byte(p.Render())
	tmp := tempName(target, time.Now())

	f, err := d.fs.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("failed to write temporary file on remote: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("failed to close temporary file on remote: %w", err)
	}
	if err := d.fs.Chmod(tmp, verify.InstallMode); err != nil {
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("failed to chmod temporary file: %w", err)
	}
	if err := d.fs.Chown(tmp, 0, 0); err != nil {
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("%w (connect as root): %w", ErrNotRootOwned, err)
	}
	if visudo {
		if out, err := d.exec.Run(ctx, shellJoin(verify.Visudo, "-c", "-q", "-f", tmp)); err != nil {
			_ = d.fs.Remove(tmp)
			return "", fmt.Errorf("remote visudo rejected the fragment: %w: %s", err, bytes.TrimSpace(out))
		}
	}
	if err := d.fs.PosixRename(tmp, target); err != nil {
		_ = d.fs.Remove(tmp)
		return "", fmt.Errorf("failed to rename fragment into place: %w", err)
	}
	return policy.Hash(content), nil
}

// Fetch reads the remote fragment. A missing file yields an error wrapping
// fs.ErrNotExist.
func (d *Deployer) Fetch(ctx context.Context, target string) ([]byte, error) {
	f, err := d.fs.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remote fragment %s: %w", target, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open remote file %s: %w", target, err)
	}
	defer func() { _ = f.Close() }()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote file %s: %w", target, err)
	}
	return content, nil
}

// Close closes the SFTP and SSH clients.
func (d *Deployer) Close() error {
	var errs []error
	if d.fs != nil {
		errs = append(errs, d.fs.Close())
	}
	if d.client != nil {
		errs = append(errs, d.client.Close())
	}
	return errors.Join(errs...)
}

// shellJoin quotes args for a POSIX shell.
func shellJoin(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

const hostKeyFetchedError = "sudokeeper: host key retrieved"

// GetRemoteHostKey connects to addr only to learn its host key.
func GetRemoteHostKey(ctx context.Context, addr string, timeout time.Duration) (ssh.PublicKey, error) {
	if timeout == 0 {
		timeout = DefaultConnectionTimeout
	}
	keyChan := make(chan ssh.PublicKey, 1)
	cfg := &ssh.ClientConfig{
		User: "sudokeeper-keyscan",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			// Abort the handshake once the key is known.
			return errors.New(hostKeyFetchedError)
		},
		Timeout: timeout,
	}
	client, err := dial(ctx, dialAddr(addr), cfg)
	if err == nil {
		_ = client.Close()
		return nil, errors.New("ssh handshake succeeded unexpectedly, could not retrieve key")
	}
	if strings.Contains(err.Error(), hostKeyFetchedError) {
		return <-keyChan, nil
	}
	return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
}
