package simple

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/AnishMulay/tfs/internal/communication"
	"github.com/AnishMulay/tfs/internal/compress"
	fs "github.com/AnishMulay/tfs/internal/file_service"
	"github.com/AnishMulay/tfs/internal/log_service"
	ps "github.com/AnishMulay/tfs/internal/server"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// maxReadLength caps a single read reply.
const maxReadLength = 1 << 20

type Options struct {
	MaxSessions int
	Workers     int

	// ExportDir receives files written by export requests.
	ExportDir   string
	ExportCodec string
}

type session struct {
	id     string
	client string

	// mu serializes the session's requests: reply N is produced before
	// request N+1 runs.
	mu      sync.Mutex
	handles map[int]struct{}
	closed  bool
}

type SimpleServer struct {
	comm communication.Communicator
	fs   fs.FileService
	ls   log_service.LogService
	opts Options
	pool *ants.Pool

	mu       sync.Mutex
	sessions map[string]*session

	done     chan struct{}
	doneOnce sync.Once
}

func NewSimpleServer(
	comm communication.Communicator,
	fsvc fs.FileService,
	ls log_service.LogService,
	opts Options,
) (*SimpleServer, error) {
	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &SimpleServer{
		comm:     comm,
		fs:       fsvc,
		ls:       ls,
		opts:     opts,
		pool:     pool,
		sessions: make(map[string]*session),
		done:     make(chan struct{}),
	}, nil
}

func (s *SimpleServer) Start() error {
	s.ls.Info(log_service.LogEvent{Message: "Starting TFS server"})

	// 1. Register Payload Types with Communicator
	ps.RegisterPayloads(s.comm)

	// 2. Build the file system tables
	if err := s.fs.Init(context.Background()); err != nil {
		return err
	}

	// 3. Start Communicator with our central handler
	return s.comm.Start(s.handleMessage)
}

func (s *SimpleServer) Stop() error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping TFS server"})

	err := s.comm.Stop()
	s.pool.Release()
	if derr := s.fs.Destroy(context.Background()); derr != nil {
		s.ls.Error(log_service.LogEvent{Message: "Failed to destroy file system", Metadata: map[string]any{"error": derr.Error()}})
	}
	return err
}

func (s *SimpleServer) Done() <-chan struct{} {
	return s.done
}

func (s *SimpleServer) Address() string {
	return s.comm.Address()
}

// Central Router for all incoming messages
func (s *SimpleServer) handleMessage(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	s.ls.Debug(log_service.LogEvent{
		Message:  "Received message",
		Metadata: map[string]any{"type": msg.Type, "from": msg.From},
	})

	switch msg.Type {
	// --- Sessions ---
	case ps.MsgMount:
		req, err := payload[ps.MountRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		id, err := s.mount(req.Client)
		return s.respond(ps.MountResponse{SessionID: id}, err)

	case ps.MsgUnmount:
		req, err := payload[ps.UnmountRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(sess *session) (any, error) {
			return nil, s.unmount(ctx, sess)
		})

	case ps.MsgShutdown:
		req, err := payload[ps.ShutdownRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.respond(nil, s.shutdown(ctx, req.SessionID))

	// --- Handles ---
	case ps.MsgOpen:
		req, err := payload[ps.OpenRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(sess *session) (any, error) {
			h, err := s.fs.Open(ctx, req.Path, req.Flags)
			if err != nil {
				return nil, err
			}
			sess.handles[h] = struct{}{}
			return ps.OpenResponse{Handle: h}, nil
		})

	case ps.MsgClose:
		req, err := payload[ps.CloseRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(sess *session) (any, error) {
			if err := sess.owns(req.Handle); err != nil {
				return nil, err
			}
			if err := s.fs.Close(ctx, req.Handle); err != nil {
				return nil, err
			}
			delete(sess.handles, req.Handle)
			return nil, nil
		})

	case ps.MsgWrite:
		req, err := payload[ps.WriteRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(sess *session) (any, error) {
			if err := sess.owns(req.Handle); err != nil {
				return nil, err
			}
			n, err := s.fs.Write(ctx, req.Handle, req.Data)
			if err != nil && n > 0 {
				s.ls.Warn(log_service.LogEvent{
					Message:  "Partial write",
					Metadata: map[string]any{"session": sess.id, "handle": req.Handle, "written": n, "error": err.Error()},
				})
			}
			return ps.WriteResponse{Written: n}, err
		})

	case ps.MsgRead:
		req, err := payload[ps.ReadRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(sess *session) (any, error) {
			if err := sess.owns(req.Handle); err != nil {
				return nil, err
			}
			if req.Length < 0 {
				return nil, fmt.Errorf("%w: negative length", ps.ErrInvalidPayload)
			}
			buf := make([]byte, min(req.Length, maxReadLength))
			n, err := s.fs.Read(ctx, req.Handle, buf)
			if err != nil {
				return nil, err
			}
			return ps.ReadResponse{Data: buf[:n]}, nil
		})

	case ps.MsgSeek:
		req, err := payload[ps.SeekRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(sess *session) (any, error) {
			if err := sess.owns(req.Handle); err != nil {
				return nil, err
			}
			off, err := s.fs.Seek(ctx, req.Handle, req.Offset, req.Whence)
			if err != nil {
				return nil, err
			}
			return ps.SeekResponse{Offset: off}, nil
		})

	// --- Namespace ---
	case ps.MsgLookup:
		req, err := payload[ps.LookupRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(*session) (any, error) {
			inum, err := s.fs.Lookup(ctx, req.Path)
			if err != nil {
				return nil, err
			}
			return ps.LookupResponse{Inumber: inum}, nil
		})

	case ps.MsgStat:
		req, err := payload[ps.StatRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(*session) (any, error) {
			return s.fs.Stat(ctx, req.Path)
		})

	case ps.MsgReadDir:
		req, err := payload[ps.ReadDirRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(*session) (any, error) {
			return s.fs.ReadDir(ctx)
		})

	case ps.MsgFsStat:
		req, err := payload[ps.FsStatRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(*session) (any, error) {
			return s.fs.FsStat(ctx)
		})

	case ps.MsgExport:
		req, err := payload[ps.ExportRequest](msg)
		if err != nil {
			return s.respond(nil, err)
		}
		return s.inSession(ctx, req.SessionID, func(*session) (any, error) {
			return s.export(ctx, req)
		})

	default:
		s.ls.Warn(log_service.LogEvent{
			Message:  "Unhandled message type",
			Metadata: map[string]any{"type": msg.Type},
		})
		return s.respond(nil, fmt.Errorf("%w: %q", ps.ErrUnknownOperation, msg.Type))
	}
}

func payload[T any](msg communication.Message) (T, error) {
	req, ok := msg.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ps.ErrInvalidPayload, msg.Type)
	}
	return req, nil
}

func (s *session) owns(handle int) error {
	if _, ok := s.handles[handle]; !ok {
		return fmt.Errorf("%w: %d", ps.ErrHandleNotOwned, handle)
	}
	return nil
}

// --- Sessions ---

func (s *SimpleServer) mount(client string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.opts.MaxSessions {
		return "", ps.ErrTooManySessions
	}
	sess := &session{
		id:      uuid.NewString(),
		client:  client,
		handles: make(map[int]struct{}),
	}
	s.sessions[sess.id] = sess

	s.ls.Info(log_service.LogEvent{
		Message:  "Session mounted",
		Metadata: map[string]any{"session": sess.id, "client": client, "sessions": len(s.sessions)},
	})
	return sess.id, nil
}

func (s *SimpleServer) session(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ps.ErrUnknownSession, id)
	}
	return sess, nil
}

// unmount closes every handle the session still holds. Caller holds sess.mu.
func (s *SimpleServer) unmount(ctx context.Context, sess *session) error {
	s.closeHandles(ctx, sess)
	sess.closed = true

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	s.ls.Info(log_service.LogEvent{
		Message:  "Session unmounted",
		Metadata: map[string]any{"session": sess.id, "client": sess.client},
	})
	return nil
}

func (s *SimpleServer) closeHandles(ctx context.Context, sess *session) {
	for h := range sess.handles {
		if err := s.fs.Close(ctx, h); err != nil {
			s.ls.Warn(log_service.LogEvent{
				Message:  "Failed to close handle",
				Metadata: map[string]any{"session": sess.id, "handle": h, "error": err.Error()},
			})
		}
		delete(sess.handles, h)
	}
}

// shutdown releases the caller's own handles, waits for every other session
// to close theirs and destroys the file system. Done is closed on success.
// The wait runs off the worker pool so other sessions can still close.
func (s *SimpleServer) shutdown(ctx context.Context, id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Shutdown requested",
		Metadata: map[string]any{"session": sess.id},
	})

	sess.mu.Lock()
	s.closeHandles(ctx, sess)
	sess.mu.Unlock()

	if err := s.fs.DestroyAfterAllClosed(ctx); err != nil {
		return err
	}

	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

// export names the output after the file so exports never escape ExportDir.
func (s *SimpleServer) export(ctx context.Context, req ps.ExportRequest) (*ps.ExportResponse, error) {
	if s.opts.ExportDir == "" {
		return nil, ps.ErrExportDisabled
	}
	name, err := fs.SplitPath(req.Path)
	if err != nil {
		return nil, err
	}
	codec := req.Codec
	if codec == "" {
		codec = s.opts.ExportCodec
	}
	dest := filepath.Join(s.opts.ExportDir, name+compress.Extension(codec))

	n, err := s.fs.ExportToFile(ctx, req.Path, dest, codec)
	if err != nil {
		return nil, err
	}
	return &ps.ExportResponse{File: dest, Bytes: n}, nil
}

// inSession runs fn on the worker pool while holding the session's lock.
// The reply is built before the lock is released, so request N+1 of a
// session starts only once the reply to N exists.
func (s *SimpleServer) inSession(ctx context.Context, id string, fn func(*session) (any, error)) (*communication.Response, error) {
	sess, err := s.session(id)
	if err != nil {
		return s.respond(nil, err)
	}

	ch := make(chan *communication.Response, 1)
	err = s.pool.Submit(func() {
		sess.mu.Lock()
		defer sess.mu.Unlock()

		if sess.closed {
			resp, _ := s.respond(nil, fmt.Errorf("%w: %q", ps.ErrUnknownSession, id))
			ch <- resp
			return
		}
		resp, _ := s.respond(fn(sess))
		ch <- resp
	})
	if err != nil {
		return s.respond(nil, fmt.Errorf("%w: %w", ps.ErrServerBusy, err))
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return s.respond(nil, ctx.Err())
	}
}

func (s *SimpleServer) respond(data any, err error) (*communication.Response, error) {
	if err != nil {
		code := ps.CodeFor(err)
		event := log_service.LogEvent{
			Message:  "Request failed",
			Metadata: map[string]any{"code": code, "error": err.Error()},
		}
		if code == communication.CodeInternal {
			s.ls.Error(event)
		} else {
			s.ls.Debug(event)
		}

		resp := &communication.Response{Code: code, Body: []byte(err.Error())}
		// A partial write still reports how much landed.
		if w, ok := data.(ps.WriteResponse); ok {
			resp.Headers = map[string]string{"written": fmt.Sprint(w.Written)}
		}
		return resp, nil
	}

	if data == nil {
		return &communication.Response{Code: communication.CodeOK}, nil
	}

	bytes, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		return &communication.Response{
			Code: communication.CodeInternal,
			Body: []byte("failed to marshal response: " + marshalErr.Error()),
		}, nil
	}

	return &communication.Response{
		Code: communication.CodeOK,
		Body: bytes,
	}, nil
}

var _ ps.Server = (*SimpleServer)(nil)
