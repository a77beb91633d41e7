package communication

import internalerrors "github.com/AnishMulay/tfs/internal/communication/internal"

// Re-exported so callers outside the transport packages can match them.
var (
	ErrUnknownMessageType     = internalerrors.ErrUnknownMessageType
	ErrPayloadUnmarshalFailed = internalerrors.ErrPayloadUnmarshalFailed
	ErrMessageSendFailed      = internalerrors.ErrMessageSendFailed
)
