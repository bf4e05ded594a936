// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package streamer

import (
	"time"

	"github.com/bureau-foundation/streamer/lib/archive"
	"github.com/bureau-foundation/streamer/lib/statistics"
)

// Command is the operation a FileRequest carries. The set of commands
// is closed: only types in this package implement it. Stages switch on
// the concrete pointer type and write results back into the command.
type Command interface {
	commandName() string
}

// ReadRequestData is an application read. Output receives the bytes;
// when Output is nil the stack allocates Size bytes. BytesRead is valid
// once the request has finished.
type ReadRequestData struct {
	Path      RequestPath
	Output    []byte
	Offset    uint64
	Size      uint64
	BytesRead uint64
}

// ReadData is the device-level read a stage hands to the storage
// drive. Its parent is the request it was split from.
type ReadData struct {
	Path      RequestPath
	Output    []byte
	Offset    uint64
	Size      uint64
	BytesRead uint64
}

// CompressionInfo locates a logical file inside an archive.
type CompressionInfo struct {
	ArchivePath RequestPath
	Entry       archive.Entry
}

// CompressedReadData reads Size bytes at Offset of the uncompressed
// entry described by Info into Output.
type CompressedReadData struct {
	Info      CompressionInfo
	Output    []byte
	Offset    uint64
	Size      uint64
	BytesRead uint64
}

// WaitData is a placeholder child that another goroutine completes,
// keeping its parent alive until then.
type WaitData struct{}

// WriteRequestData writes Data at Offset, creating the file if needed.
type WriteRequestData struct {
	Path         RequestPath
	Data         []byte
	Offset       uint64
	BytesWritten uint64
}

// OpenData opens a file handle ahead of the reads that will use it.
type OpenData struct {
	Path RequestPath
}

// CloseData closes any cached handle for Path.
type CloseData struct {
	Path RequestPath
}

// FlushData drops every cached handle and metadata entry for Path.
type FlushData struct {
	Path RequestPath
}

// FlushAllData drops every cached handle and metadata entry.
type FlushAllData struct{}

// CancelData asks the stack to stop the target request. Canceling an
// unknown or finished request succeeds without effect.
type CancelData struct {
	Target RequestRef
}

// RescheduleData raises the urgency of the target. Values that would
// make the target less urgent are ignored.
type RescheduleData struct {
	Target   RequestRef
	Deadline time.Duration
	Priority Priority
}

// FileExistsCheckData reports whether Path exists.
type FileExistsCheckData struct {
	Path  RequestPath
	Found bool
}

// FileMetaDataRetrievalData reports the size of Path.
type FileMetaDataRetrievalData struct {
	Path     RequestPath
	FileSize uint64
	Found    bool
}

// CreateDedicatedCacheData creates a block cache for Path.
type CreateDedicatedCacheData struct {
	Path RequestPath
}

// DestroyDedicatedCacheData releases one reference to the block cache
// for Path.
type DestroyDedicatedCacheData struct {
	Path RequestPath
}

// ReportType selects what a ReportData request collects.
type ReportType uint8

const (
	// ReportConfig collects each stage's configuration.
	ReportConfig ReportType = iota
	// ReportFileLocks lists the file handles each stage holds open.
	ReportFileLocks
	// ReportLive collects the statistics of the scheduler and every
	// stage, taken on the scheduler goroutine.
	ReportLive
)

func (t ReportType) String() string {
	switch t {
	case ReportConfig:
		return "config"
	case ReportFileLocks:
		return "file_locks"
	case ReportLive:
		return "live"
	default:
		return "unknown"
	}
}

// ReportData gathers diagnostics from the stack. Stages append to
// Statistics; the slice is complete once the request finishes.
type ReportData struct {
	Type       ReportType
	Statistics []statistics.Statistic
}

func (*ReadRequestData) commandName() string           { return "read_request" }
func (*ReadData) commandName() string                  { return "read" }
func (*CompressedReadData) commandName() string        { return "compressed_read" }
func (*WaitData) commandName() string                  { return "wait" }
func (*WriteRequestData) commandName() string          { return "write" }
func (*OpenData) commandName() string                  { return "open" }
func (*CloseData) commandName() string                 { return "close" }
func (*FlushData) commandName() string                 { return "flush" }
func (*FlushAllData) commandName() string              { return "flush_all" }
func (*CancelData) commandName() string                { return "cancel" }
func (*RescheduleData) commandName() string            { return "reschedule" }
func (*FileExistsCheckData) commandName() string       { return "file_exists_check" }
func (*FileMetaDataRetrievalData) commandName() string { return "file_metadata" }
func (*CreateDedicatedCacheData) commandName() string  { return "create_dedicated_cache" }
func (*DestroyDedicatedCacheData) commandName() string { return "destroy_dedicated_cache" }
func (*ReportData) commandName() string                { return "report" }

// CommandName returns a short lower_snake name for a command, used in
// log attributes.
func CommandName(command Command) string {
	if command == nil {
		return "none"
	}
	return command.commandName()
}

// isDataCommand reports whether the scheduler orders the command with
// PrioritizeRequests and gates it on stage slots. Everything else is a
// control command dispatched in arrival order ahead of data.
func isDataCommand(command Command) bool {
	switch command.(type) {
	case *ReadData, *CompressedReadData:
		return true
	}
	return false
}
