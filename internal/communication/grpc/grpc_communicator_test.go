package grpccomm

import (
	"testing"

	"github.com/AnishMulay/tfs/internal/communication/internal/commtest"
	"github.com/AnishMulay/tfs/internal/log_service/zaplog"
	"go.uber.org/zap"
)

func TestGRPCCommunicator(t *testing.T) {
	ls := zaplog.NewZapLogService(zap.NewNop(), "test")
	server := NewGRPCCommunicator("127.0.0.1:0", ls)
	client := NewGRPCCommunicator("127.0.0.1:0", ls)
	commtest.Run(t, server, client)
}
