package grpccomm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/AnishMulay/tfs/internal/communication"
	internalerrors "github.com/AnishMulay/tfs/internal/communication/internal"
	"github.com/AnishMulay/tfs/internal/log_service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type envelope struct {
	From    string          `json:"from"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type GRPCCommunicator struct {
	communication.PayloadRegistry

	mu            sync.RWMutex
	listenAddress string
	handler       communication.MessageHandler
	grpcServer    *grpc.Server
	ls            log_service.LogService

	clientLock sync.RWMutex
	clients    map[string]*grpc.ClientConn
	stopped    bool
	stopMutex  sync.RWMutex
}

func NewGRPCCommunicator(addr string, ls log_service.LogService) *GRPCCommunicator {
	return &GRPCCommunicator{
		listenAddress: addr,
		ls:            ls,
		clients:       make(map[string]*grpc.ClientConn),
	}
}

func (c *GRPCCommunicator) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listenAddress
}

func (c *GRPCCommunicator) Start(handler communication.MessageHandler) error {
	c.ls.Info(log_service.LogEvent{
		Message:  "Starting GRPC communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	lis, err := net.Listen("tcp", c.listenAddress)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %w", internalerrors.ErrGRPCListenFailed, err)
	}

	server := grpc.NewServer()
	server.RegisterService(&messageServiceDesc, &grpcServer{comm: c})

	c.mu.Lock()
	c.handler = handler
	c.listenAddress = lis.Addr().String()
	c.grpcServer = server
	c.mu.Unlock()

	c.ls.Info(log_service.LogEvent{
		Message:  "GRPC communicator started successfully",
		Metadata: map[string]any{"address": lis.Addr().String()},
	})

	go func() {
		if err := server.Serve(lis); err != nil {
			c.ls.Error(log_service.LogEvent{
				Message:  "GRPC server error",
				Metadata: map[string]any{"address": lis.Addr().String(), "error": err.Error()},
			})
		}
	}()
	return nil
}

func (c *GRPCCommunicator) Stop() error {
	c.stopMutex.Lock()
	defer c.stopMutex.Unlock()

	c.mu.RLock()
	server, addr := c.grpcServer, c.listenAddress
	c.mu.RUnlock()

	if c.stopped {
		c.ls.Debug(log_service.LogEvent{
			Message:  "GRPC communicator already stopped, skipping",
			Metadata: map[string]any{"address": addr},
		})
		return nil
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Stopping GRPC communicator",
		Metadata: map[string]any{"address": addr},
	})

	if server != nil {
		server.GracefulStop()
	}

	c.clientLock.Lock()
	for to, conn := range c.clients {
		if err := conn.Close(); err != nil {
			c.ls.Warn(log_service.LogEvent{
				Message:  "Failed to close GRPC client",
				Metadata: map[string]any{"to": to, "error": err.Error()},
			})
		}
	}
	c.clients = make(map[string]*grpc.ClientConn)
	c.clientLock.Unlock()

	c.stopped = true
	c.ls.Info(log_service.LogEvent{
		Message:  "GRPC communicator stopped successfully",
		Metadata: map[string]any{"address": addr},
	})

	return nil
}

func (c *GRPCCommunicator) client(to string) (*grpc.ClientConn, error) {
	c.clientLock.RLock()
	conn, ok := c.clients[to]
	c.clientLock.RUnlock()
	if ok {
		return conn, nil
	}

	c.clientLock.Lock()
	defer c.clientLock.Unlock()
	if conn, ok := c.clients[to]; ok {
		return conn, nil
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "Creating new GRPC client",
		Metadata: map[string]any{"to": to},
	})
	conn, err := grpc.NewClient(to, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to create GRPC client",
			Metadata: map[string]any{"to": to, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrClientCreateFailed, err)
	}
	c.clients[to] = conn
	return conn, nil
}

func (c *GRPCCommunicator) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	c.ls.Debug(log_service.LogEvent{
		Message:  "Sending GRPC message",
		Metadata: map[string]any{"to": to, "type": msg.Type, "from": msg.From},
	})

	conn, err := c.client(to)
	if err != nil {
		return nil, err
	}

	// Serialize payload to JSON bytes
	env := envelope{From: msg.From, Type: msg.Type}
	if msg.Payload != nil {
		env.Payload, err = json.Marshal(msg.Payload)
		if err != nil {
			c.ls.Error(log_service.LogEvent{
				Message:  "Failed to marshal payload",
				Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
			})
			return nil, fmt.Errorf("%w: %w", internalerrors.ErrPayloadMarshalFailed, err)
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrMessageMarshalFailed, err)
	}

	out := new(wrapperspb.BytesValue)
	if err := conn.Invoke(ctx, sendMessageMethod, wrapperspb.Bytes(raw), out); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to send GRPC message",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrMessageSendFailed, err)
	}

	var resp communication.Response
	if err := json.Unmarshal(out.GetValue(), &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrResponseDecodeFailed, err)
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "GRPC message sent successfully",
		Metadata: map[string]any{"to": to, "type": msg.Type, "responseCode": resp.Code},
	})
	return &resp, nil
}

type grpcServer struct {
	comm *GRPCCommunicator
}

func (s *grpcServer) SendMessage(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	resp := s.dispatch(ctx, req.GetValue())
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrMessageMarshalFailed, err)
	}
	return wrapperspb.Bytes(raw), nil
}

func (s *grpcServer) dispatch(ctx context.Context, raw []byte) *communication.Response {
	s.comm.mu.RLock()
	handler := s.comm.handler
	s.comm.mu.RUnlock()
	if handler == nil {
		return &communication.Response{
			Code: communication.CodeUnavailable,
			Body: []byte(internalerrors.ErrHandlerNotSet.Error()),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		return &communication.Response{
			Code: communication.CodeBadRequest,
			Body: []byte(internalerrors.ErrMissingRequiredFields.Error()),
		}
	}

	// Deserialize payload based on registered type
	payload, err := s.comm.DecodePayload(env.Type, env.Payload)
	if err != nil {
		return &communication.Response{
			Code: communication.CodeBadRequest,
			Body: []byte(err.Error()),
		}
	}

	resp, err := handler(ctx, communication.Message{From: env.From, Type: env.Type, Payload: payload})
	if err != nil {
		s.comm.ls.Error(log_service.LogEvent{
			Message:  "Message handler failed",
			Metadata: map[string]any{"type": env.Type, "error": err.Error()},
		})
		return &communication.Response{
			Code: communication.CodeInternal,
			Body: []byte(err.Error()),
		}
	}

	if resp == nil {
		return &communication.Response{
			Code: communication.CodeInternal,
			Body: []byte("handler returned nil response"),
		}
	}
	return resp
}

var _ communication.Communicator = (*GRPCCommunicator)(nil)
