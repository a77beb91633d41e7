package communication

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRequest struct {
	Seq  int    `json:"seq"`
	Note string `json:"note"`
}

func TestPayloadRegistry_Decode(t *testing.T) {
	var r PayloadRegistry
	r.RegisterPayloadType("ping", reflect.TypeOf(pingRequest{}))

	got, err := r.DecodePayload("ping", []byte(`{"seq":3,"note":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, pingRequest{Seq: 3, Note: "hi"}, got)

	got, err = r.DecodePayload("anything", nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = r.DecodePayload("pong", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = r.DecodePayload("ping", []byte(`{"seq":"x"}`))
	assert.ErrorIs(t, err, ErrPayloadUnmarshalFailed)
}
