package httpcomm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AnishMulay/tfs/internal/communication"
	internalerrors "github.com/AnishMulay/tfs/internal/communication/internal"
	"github.com/AnishMulay/tfs/internal/log_service"
)

const (
	// CodeHeader carries the exact SandCode, the HTTP status only approximates it.
	CodeHeader = "X-Sand-Code"
	// Response.Headers travel as X-Sand-Meta-<key>.
	metaHeaderPrefix = "X-Sand-Meta-"
)

type wireMessage struct {
	From    string          `json:"from"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HTTPCommunicator struct {
	communication.PayloadRegistry

	mu            sync.RWMutex
	listenAddress string
	httpServer    *http.Server
	handler       communication.MessageHandler
	ls            log_service.LogService
	clientLock    sync.RWMutex
	clients       map[string]*http.Client
	timeout       time.Duration
}

func NewHTTPCommunicator(listenAddress string, ls log_service.LogService) *HTTPCommunicator {
	return &HTTPCommunicator{
		listenAddress: listenAddress,
		ls:            ls,
		clients:       make(map[string]*http.Client),
		timeout:       5 * time.Second,
	}
}

func (c *HTTPCommunicator) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listenAddress
}

func (c *HTTPCommunicator) Start(handler communication.MessageHandler) error {
	c.ls.Info(log_service.LogEvent{
		Message:  "Starting HTTP communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	lis, err := net.Listen("tcp", c.listenAddress)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %w", internalerrors.ErrServerStartFailed, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/message", c.handleHTTPMessage)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: c.timeout,
	}

	c.mu.Lock()
	c.handler = handler
	c.listenAddress = lis.Addr().String()
	c.httpServer = server
	c.mu.Unlock()

	c.ls.Info(log_service.LogEvent{
		Message:  "HTTP communicator started successfully",
		Metadata: map[string]any{"address": lis.Addr().String()},
	})

	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.ls.Error(log_service.LogEvent{
				Message:  "HTTP server error",
				Metadata: map[string]any{"address": lis.Addr().String(), "error": err.Error()},
			})
		}
	}()

	return nil
}

func (c *HTTPCommunicator) Stop() error {
	c.mu.RLock()
	server, addr := c.httpServer, c.listenAddress
	c.mu.RUnlock()

	if server == nil {
		return nil
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Stopping HTTP communicator",
		Metadata: map[string]any{"address": addr},
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to stop HTTP server",
			Metadata: map[string]any{"address": addr, "error": err.Error()},
		})
		return fmt.Errorf("%w: %w", internalerrors.ErrServerStopFailed, err)
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "HTTP communicator stopped successfully",
		Metadata: map[string]any{"address": addr},
	})

	return nil
}

func mapToHTTPCode(code communication.SandCode) int {
	switch code {
	case communication.CodeOK:
		return http.StatusOK
	case communication.CodeBadRequest, communication.CodeNotADirectory, communication.CodeInvalidHandle:
		return http.StatusBadRequest
	case communication.CodeNotFound:
		return http.StatusNotFound
	case communication.CodeAlreadyExists:
		return http.StatusConflict
	case communication.CodeTableFull:
		return http.StatusInsufficientStorage
	case communication.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapFromHTTPCode(code int) communication.SandCode {
	switch code {
	case http.StatusOK:
		return communication.CodeOK
	case http.StatusBadRequest:
		return communication.CodeBadRequest
	case http.StatusNotFound:
		return communication.CodeNotFound
	case http.StatusConflict:
		return communication.CodeAlreadyExists
	case http.StatusInsufficientStorage:
		return communication.CodeTableFull
	case http.StatusServiceUnavailable:
		return communication.CodeUnavailable
	default:
		return communication.CodeInternal
	}
}

func (c *HTTPCommunicator) client(to string) *http.Client {
	c.clientLock.RLock()
	client, ok := c.clients[to]
	c.clientLock.RUnlock()
	if ok {
		return client
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "Creating new HTTP client",
		Metadata: map[string]any{"to": to},
	})

	// No client timeout: the caller's ctx bounds each request, and shutdown
	// may wait for other sessions.
	client = &http.Client{}
	c.clientLock.Lock()
	c.clients[to] = client
	c.clientLock.Unlock()
	return client
}

func (c *HTTPCommunicator) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	c.ls.Debug(log_service.LogEvent{
		Message:  "Sending HTTP message",
		Metadata: map[string]any{"to": to, "type": msg.Type, "from": msg.From},
	})

	wire := wireMessage{From: msg.From, Type: msg.Type}
	if msg.Payload != nil {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", internalerrors.ErrPayloadMarshalFailed, err)
		}
		wire.Payload = raw
	}
	jsonData, err := json.Marshal(wire)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to marshal message",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrMessageMarshalFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/message", to), bytes.NewReader(jsonData))
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to create HTTP request",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrHTTPRequestCreateFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client(to).Do(httpReq)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to send HTTP request",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrMessageSendFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to read HTTP response",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrHTTPResponseReadFailed, err)
	}

	code := communication.SandCode(resp.Header.Get(CodeHeader))
	if code == "" {
		code = mapFromHTTPCode(resp.StatusCode)
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "HTTP message sent successfully",
		Metadata: map[string]any{"to": to, "type": msg.Type, "status": resp.StatusCode, "code": code},
	})

	var headers map[string]string
	for k, vs := range resp.Header {
		if key, ok := strings.CutPrefix(k, metaHeaderPrefix); ok && len(vs) > 0 {
			if headers == nil {
				headers = make(map[string]string)
			}
			headers[strings.ToLower(key)] = vs[0]
		}
	}

	return &communication.Response{Code: code, Body: body, Headers: headers}, nil
}

func (c *HTTPCommunicator) reply(w http.ResponseWriter, resp *communication.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(metaHeaderPrefix+k, v)
	}
	w.Header().Set(CodeHeader, string(resp.Code))
	w.WriteHeader(mapToHTTPCode(resp.Code))
	if len(resp.Body) == 0 {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to write HTTP response body",
			Metadata: map[string]any{"error": err.Error()},
		})
	}
}

func (c *HTTPCommunicator) fail(w http.ResponseWriter, code communication.SandCode, err error) {
	c.reply(w, &communication.Response{Code: code, Body: []byte(err.Error())})
}

func (c *HTTPCommunicator) handleHTTPMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to read HTTP request body",
			Metadata: map[string]any{"error": err.Error()},
		})
		c.fail(w, communication.CodeBadRequest, internalerrors.ErrHTTPBodyReadFailed)
		return
	}

	var wire wireMessage
	if err := json.Unmarshal(body, &wire); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Invalid JSON in request",
			Metadata: map[string]any{"error": err.Error()},
		})
		c.fail(w, communication.CodeBadRequest, internalerrors.ErrInvalidJSON)
		return
	}

	if wire.Type == "" {
		c.fail(w, communication.CodeBadRequest, internalerrors.ErrMissingRequiredFields)
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		c.fail(w, communication.CodeUnavailable, internalerrors.ErrHandlerNotSet)
		return
	}

	payload, err := c.DecodePayload(wire.Type, wire.Payload)
	if err != nil {
		c.fail(w, communication.CodeBadRequest, err)
		return
	}

	resp, err := handler(r.Context(), communication.Message{From: wire.From, Type: wire.Type, Payload: payload})
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Message handler failed",
			Metadata: map[string]any{"type": wire.Type, "error": err.Error()},
		})
		c.fail(w, communication.CodeInternal, err)
		return
	}

	if resp == nil {
		c.fail(w, communication.CodeInternal, errors.New("handler returned nil response"))
		return
	}

	c.reply(w, resp)
}

var _ communication.Communicator = (*HTTPCommunicator)(nil)
