package tfslib

import (
	"sync"

	"github.com/AnishMulay/tfs/internal/communication"
)

// TFSFile tracks one handle the server opened for this client.
type TFSFile struct {
	Handle   int
	FilePath string
	// Offset mirrors the server-side cursor.
	Offset int64
	Mu     sync.Mutex
}

// TFSClient stores the session and the handle table of one mounted client.
type TFSClient struct {
	ServerAddr string
	Comm       communication.Communicator
	Name       string

	sessionMu sync.RWMutex
	sessionID string

	OpenFiles map[int]*TFSFile
	TableMu   sync.RWMutex
}
