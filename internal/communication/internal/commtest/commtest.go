// Package commtest holds the behaviour every Communicator must share.
package commtest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/AnishMulay/tfs/internal/communication"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type EchoRequest struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

const (
	MsgEcho  = "echo"
	MsgFail  = "fail"
	MsgCode  = "code"
	MsgEmpty = "empty"
)

func handler(ctx context.Context, msg communication.Message) (*communication.Response, error) {
	switch msg.Type {
	case MsgEcho:
		req, ok := msg.Payload.(EchoRequest)
		if !ok {
			return nil, errors.New("payload not decoded")
		}
		return &communication.Response{Code: communication.CodeOK, Body: []byte(req.Text)}, nil
	case MsgFail:
		return nil, errors.New("boom")
	case MsgCode:
		return &communication.Response{
			Code:    communication.CodeTableFull,
			Body:    []byte("full"),
			Headers: map[string]string{"written": "3"},
		}, nil
	case MsgEmpty:
		return &communication.Response{Code: communication.CodeOK}, nil
	}
	return &communication.Response{Code: communication.CodeBadRequest}, nil
}

// Run starts server with a test handler on an ephemeral port and drives it
// from client.
func Run(t *testing.T, server, client communication.Communicator) {
	t.Helper()

	server.RegisterPayloadType(MsgEcho, reflect.TypeOf(EchoRequest{}))
	require.NoError(t, server.Start(handler))
	t.Cleanup(func() { _ = server.Stop() })
	t.Cleanup(func() { _ = client.Stop() })

	addr := server.Address()
	require.NotContains(t, addr, ":0", "Address reports the bound port")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("typed payload", func(t *testing.T) {
		resp, err := client.Send(ctx, addr, communication.Message{
			From:    "client",
			Type:    MsgEcho,
			Payload: EchoRequest{Text: "hello", Count: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, communication.CodeOK, resp.Code)
		assert.Equal(t, "hello", string(resp.Body))
	})

	t.Run("handler error", func(t *testing.T) {
		resp, err := client.Send(ctx, addr, communication.Message{Type: MsgFail})
		require.NoError(t, err)
		assert.Equal(t, communication.CodeInternal, resp.Code)
		assert.Contains(t, string(resp.Body), "boom")
	})

	t.Run("code passes through", func(t *testing.T) {
		resp, err := client.Send(ctx, addr, communication.Message{Type: MsgCode})
		require.NoError(t, err)
		assert.Equal(t, communication.CodeTableFull, resp.Code)
		assert.Equal(t, "full", string(resp.Body))
		assert.Equal(t, "3", resp.Headers["written"])
	})

	t.Run("empty body", func(t *testing.T) {
		resp, err := client.Send(ctx, addr, communication.Message{Type: MsgEmpty})
		require.NoError(t, err)
		assert.Equal(t, communication.CodeOK, resp.Code)
		assert.Empty(t, resp.Body)
	})

	t.Run("unregistered payload", func(t *testing.T) {
		resp, err := client.Send(ctx, addr, communication.Message{Type: "mystery", Payload: EchoRequest{}})
		require.NoError(t, err)
		assert.Equal(t, communication.CodeBadRequest, resp.Code)
	})

	t.Run("missing type", func(t *testing.T) {
		resp, err := client.Send(ctx, addr, communication.Message{})
		require.NoError(t, err)
		assert.Equal(t, communication.CodeBadRequest, resp.Code)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		require.NoError(t, server.Stop())
		require.NoError(t, server.Stop())

		_, err := client.Send(ctx, addr, communication.Message{Type: MsgEmpty})
		assert.ErrorIs(t, err, communication.ErrMessageSendFailed)
	})
}
