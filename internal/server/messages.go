package server

import (
	"reflect"

	"github.com/AnishMulay/tfs/internal/communication"
	fs "github.com/AnishMulay/tfs/internal/file_service"
)

// Message Type Constants
const (
	// Session Operations
	MsgMount    = "mount"
	MsgUnmount  = "unmount"
	MsgShutdown = "shutdown"

	// File Operations
	MsgOpen    = "open"
	MsgClose   = "close"
	MsgWrite   = "write"
	MsgRead    = "read"
	MsgSeek    = "seek"
	MsgLookup  = "lookup"
	MsgStat    = "stat"
	MsgReadDir = "readdir"
	MsgFsStat  = "fsstat"
	MsgExport  = "export"
)

// --- Payload Structs ---

type MountRequest struct {
	Client string `json:"client"`
}

type MountResponse struct {
	SessionID string `json:"sessionId"`
}

type UnmountRequest struct {
	SessionID string `json:"sessionId"`
}

type ShutdownRequest struct {
	SessionID string `json:"sessionId"`
}

type OpenRequest struct {
	SessionID string      `json:"sessionId"`
	Path      string      `json:"path"`
	Flags     fs.OpenFlag `json:"flags"`
}

type OpenResponse struct {
	Handle int `json:"handle"`
}

type CloseRequest struct {
	SessionID string `json:"sessionId"`
	Handle    int    `json:"handle"`
}

type WriteRequest struct {
	SessionID string `json:"sessionId"`
	Handle    int    `json:"handle"`
	Data      []byte `json:"data"`
}

type WriteResponse struct {
	Written int `json:"written"`
}

type ReadRequest struct {
	SessionID string `json:"sessionId"`
	Handle    int    `json:"handle"`
	Length    int    `json:"length"`
}

type ReadResponse struct {
	Data []byte `json:"data"`
}

type SeekRequest struct {
	SessionID string `json:"sessionId"`
	Handle    int    `json:"handle"`
	Offset    int64  `json:"offset"`
	Whence    int    `json:"whence"`
}

type SeekResponse struct {
	Offset int64 `json:"offset"`
}

type LookupRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

type LookupResponse struct {
	Inumber int `json:"inumber"`
}

type StatRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

type ReadDirRequest struct {
	SessionID string `json:"sessionId"`
}

type FsStatRequest struct {
	SessionID string `json:"sessionId"`
}

// ExportRequest writes a file's content into the server's export directory.
// An empty Codec uses the server default.
type ExportRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Codec     string `json:"codec,omitempty"`
}

type ExportResponse struct {
	File  string `json:"file"`
	Bytes int64  `json:"bytes"`
}

// RegisterPayloads tells comm how to decode every request this server accepts.
func RegisterPayloads(comm communication.Communicator) {
	comm.RegisterPayloadType(MsgMount, reflect.TypeOf(MountRequest{}))
	comm.RegisterPayloadType(MsgUnmount, reflect.TypeOf(UnmountRequest{}))
	comm.RegisterPayloadType(MsgShutdown, reflect.TypeOf(ShutdownRequest{}))
	comm.RegisterPayloadType(MsgOpen, reflect.TypeOf(OpenRequest{}))
	comm.RegisterPayloadType(MsgClose, reflect.TypeOf(CloseRequest{}))
	comm.RegisterPayloadType(MsgWrite, reflect.TypeOf(WriteRequest{}))
	comm.RegisterPayloadType(MsgRead, reflect.TypeOf(ReadRequest{}))
	comm.RegisterPayloadType(MsgSeek, reflect.TypeOf(SeekRequest{}))
	comm.RegisterPayloadType(MsgLookup, reflect.TypeOf(LookupRequest{}))
	comm.RegisterPayloadType(MsgStat, reflect.TypeOf(StatRequest{}))
	comm.RegisterPayloadType(MsgReadDir, reflect.TypeOf(ReadDirRequest{}))
	comm.RegisterPayloadType(MsgFsStat, reflect.TypeOf(FsStatRequest{}))
	comm.RegisterPayloadType(MsgExport, reflect.TypeOf(ExportRequest{}))
}
