package tfslib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AnishMulay/tfs/internal/communication"
	fs "github.com/AnishMulay/tfs/internal/file_service"
	fserr "github.com/AnishMulay/tfs/internal/fs_errors"
	ps "github.com/AnishMulay/tfs/internal/server"
)

var (
	ErrNotMounted     = fmt.Errorf("client not mounted: %w", fserr.ErrNotInitialized)
	ErrAlreadyMounted = fmt.Errorf("client already mounted: %w", fserr.ErrInvalidArgument)
	ErrBadFD          = fmt.Errorf("bad file descriptor: %w", fserr.ErrInvalidHandle)
)

func NewTFSClient(serverAddr string, comm communication.Communicator, name string) *TFSClient {
	return &TFSClient{
		ServerAddr: serverAddr,
		Comm:       comm,
		Name:       name,
		OpenFiles:  make(map[int]*TFSFile),
	}
}

// SessionID is empty until Mount succeeds.
func (c *TFSClient) SessionID() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.sessionID
}

// --- Sessions ---

func (c *TFSClient) Mount(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.sessionID != "" {
		return ErrAlreadyMounted
	}

	var out ps.MountResponse
	if err := c.call(ctx, "mount", ps.MsgMount, ps.MountRequest{Client: c.Name}, &out); err != nil {
		return err
	}
	c.sessionID = out.SessionID
	return nil
}

// Unmount ends the session. The server closes every handle still open.
func (c *TFSClient) Unmount(ctx context.Context) error {
	sid, err := c.session()
	if err != nil {
		return err
	}
	if err := c.call(ctx, "unmount", ps.MsgUnmount, ps.UnmountRequest{SessionID: sid}, nil); err != nil {
		return err
	}
	c.forget()
	return nil
}

// Shutdown asks the server to stop once every other client has closed its
// files. It blocks until then or until ctx is done.
func (c *TFSClient) Shutdown(ctx context.Context) error {
	sid, err := c.session()
	if err != nil {
		return err
	}
	if err := c.call(ctx, "shutdown", ps.MsgShutdown, ps.ShutdownRequest{SessionID: sid}, nil); err != nil {
		return err
	}
	c.forget()
	return nil
}

func (c *TFSClient) forget() {
	c.TableMu.Lock()
	c.OpenFiles = make(map[int]*TFSFile)
	c.TableMu.Unlock()

	c.sessionMu.Lock()
	c.sessionID = ""
	c.sessionMu.Unlock()
}

// --- Handles ---

func (c *TFSClient) Open(ctx context.Context, path string, flags fs.OpenFlag) (int, error) {
	sid, err := c.session()
	if err != nil {
		return 0, err
	}

	var out ps.OpenResponse
	if err := c.call(ctx, "open "+path, ps.MsgOpen, ps.OpenRequest{SessionID: sid, Path: path, Flags: flags}, &out); err != nil {
		return 0, err
	}

	file := &TFSFile{Handle: out.Handle, FilePath: path}
	// An append open starts at the end of the file.
	if flags&fs.OpenAppend != 0 {
		var pos ps.SeekResponse
		req := ps.SeekRequest{SessionID: sid, Handle: out.Handle, Whence: io.SeekCurrent}
		if err := c.call(ctx, "open "+path, ps.MsgSeek, req, &pos); err != nil {
			return 0, err
		}
		file.Offset = pos.Offset
	}

	c.TableMu.Lock()
	c.OpenFiles[out.Handle] = file
	c.TableMu.Unlock()
	return out.Handle, nil
}

func (c *TFSClient) Close(ctx context.Context, fd int) error {
	sid, err := c.session()
	if err != nil {
		return err
	}

	c.TableMu.Lock()
	file := c.OpenFiles[fd]
	if file == nil {
		c.TableMu.Unlock()
		return fmt.Errorf("%w: %d", ErrBadFD, fd)
	}
	delete(c.OpenFiles, fd)
	c.TableMu.Unlock()

	file.Mu.Lock()
	defer file.Mu.Unlock()
	return c.call(ctx, "close "+file.FilePath, ps.MsgClose, ps.CloseRequest{SessionID: sid, Handle: fd}, nil)
}

// Write stores data at the cursor. On a partial write n reports how many
// bytes landed before the error.
func (c *TFSClient) Write(ctx context.Context, fd int, data []byte) (int, error) {
	sid, file, err := c.file(fd)
	if err != nil {
		return 0, err
	}
	file.Mu.Lock()
	defer file.Mu.Unlock()

	resp, err := c.send(ctx, ps.MsgWrite, ps.WriteRequest{SessionID: sid, Handle: fd, Data: data})
	if err != nil {
		return 0, fmt.Errorf("write %q failed: %w", file.FilePath, err)
	}
	if resp.Code != communication.CodeOK {
		n, _ := strconv.Atoi(resp.Headers["written"])
		file.Offset += int64(n)
		return n, fmt.Errorf("write %q: %w", file.FilePath, ps.ErrorFor(resp))
	}

	var out ps.WriteResponse
	if err := decode(resp, &out); err != nil {
		return 0, fmt.Errorf("write %q: %w", file.FilePath, err)
	}
	file.Offset += int64(out.Written)
	return out.Written, nil
}

// Read returns up to n bytes from the cursor and advances past them. An
// empty result at the end of the file is io.EOF.
func (c *TFSClient) Read(ctx context.Context, fd int, n int) ([]byte, error) {
	sid, file, err := c.file(fd)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("invalid read length %d: %w", n, fserr.ErrInvalidArgument)
	}
	file.Mu.Lock()
	defer file.Mu.Unlock()

	var out ps.ReadResponse
	if err := c.call(ctx, "read "+file.FilePath, ps.MsgRead, ps.ReadRequest{SessionID: sid, Handle: fd, Length: n}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		if n == 0 {
			return nil, nil
		}
		return nil, io.EOF
	}

	// The server leaves the cursor where it was.
	var pos ps.SeekResponse
	req := ps.SeekRequest{SessionID: sid, Handle: fd, Offset: file.Offset + int64(len(out.Data)), Whence: io.SeekStart}
	if err := c.call(ctx, "read "+file.FilePath, ps.MsgSeek, req, &pos); err != nil {
		return out.Data, err
	}
	file.Offset = pos.Offset
	return out.Data, nil
}

// ReadAll rewinds fd and returns the whole file.
func (c *TFSClient) ReadAll(ctx context.Context, fd int, chunk int) ([]byte, error) {
	if _, err := c.Seek(ctx, fd, 0, io.SeekStart); err != nil {
		return nil, err
	}
	var out []byte
	for {
		data, err := c.Read(ctx, fd, chunk)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, data...)
	}
}

func (c *TFSClient) Seek(ctx context.Context, fd int, offset int64, whence int) (int64, error) {
	sid, file, err := c.file(fd)
	if err != nil {
		return 0, err
	}
	file.Mu.Lock()
	defer file.Mu.Unlock()

	var out ps.SeekResponse
	req := ps.SeekRequest{SessionID: sid, Handle: fd, Offset: offset, Whence: whence}
	if err := c.call(ctx, "seek "+file.FilePath, ps.MsgSeek, req, &out); err != nil {
		return 0, err
	}
	file.Offset = out.Offset
	return out.Offset, nil
}

// --- Namespace ---

func (c *TFSClient) Lookup(ctx context.Context, path string) (int, error) {
	sid, err := c.session()
	if err != nil {
		return 0, err
	}
	var out ps.LookupResponse
	if err := c.call(ctx, "lookup "+path, ps.MsgLookup, ps.LookupRequest{SessionID: sid, Path: path}, &out); err != nil {
		return 0, err
	}
	return out.Inumber, nil
}

func (c *TFSClient) Stat(ctx context.Context, path string) (*fs.FileInfo, error) {
	sid, err := c.session()
	if err != nil {
		return nil, err
	}
	var out fs.FileInfo
	if err := c.call(ctx, "stat "+path, ps.MsgStat, ps.StatRequest{SessionID: sid, Path: path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TFSClient) ReadDir(ctx context.Context) ([]fs.DirEntry, error) {
	sid, err := c.session()
	if err != nil {
		return nil, err
	}
	var out []fs.DirEntry
	if err := c.call(ctx, "readdir", ps.MsgReadDir, ps.ReadDirRequest{SessionID: sid}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TFSClient) FsStat(ctx context.Context) (*fs.FsStats, error) {
	sid, err := c.session()
	if err != nil {
		return nil, err
	}
	var out fs.FsStats
	if err := c.call(ctx, "fsstat", ps.MsgFsStat, ps.FsStatRequest{SessionID: sid}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export asks the server to write path into its export directory with codec.
func (c *TFSClient) Export(ctx context.Context, path, codec string) (*ps.ExportResponse, error) {
	sid, err := c.session()
	if err != nil {
		return nil, err
	}
	var out ps.ExportResponse
	if err := c.call(ctx, "export "+path, ps.MsgExport, ps.ExportRequest{SessionID: sid, Path: path, Codec: codec}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Plumbing ---

func (c *TFSClient) session() (string, error) {
	sid := c.SessionID()
	if sid == "" {
		return "", ErrNotMounted
	}
	return sid, nil
}

func (c *TFSClient) file(fd int) (string, *TFSFile, error) {
	sid, err := c.session()
	if err != nil {
		return "", nil, err
	}
	c.TableMu.RLock()
	file := c.OpenFiles[fd]
	c.TableMu.RUnlock()
	if file == nil {
		return "", nil, fmt.Errorf("%w: %d", ErrBadFD, fd)
	}
	return sid, file, nil
}

// call sends one request and decodes an OK body into out when out is non-nil.
func (c *TFSClient) call(ctx context.Context, op, msgType string, payload, out any) error {
	resp, err := c.send(ctx, msgType, payload)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if resp.Code != communication.CodeOK {
		return fmt.Errorf("%s: %w", op, ps.ErrorFor(resp))
	}
	if out == nil {
		return nil
	}
	if err := decode(resp, out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *TFSClient) send(ctx context.Context, msgType string, payload any) (*communication.Response, error) {
	from := c.Name
	if from == "" {
		from = "tfslib"
	}
	return c.Comm.Send(ctx, c.ServerAddr, communication.Message{
		From:    from,
		Type:    msgType,
		Payload: payload,
	})
}

func decode(resp *communication.Response, out any) error {
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
