// Package eventlog records structured, JSON-lines flush events and names
// the reasons a flush was triggered.
package eventlog

import (
	"encoding/json"
	"io"
	"time"

	"github.com/dustin/go-humanize"
)

// FlushReason identifies why a flush job was scheduled.
type FlushReason int

const (
	ReasonOthers FlushReason = iota
	ReasonGetLiveFiles
	ReasonShutDown
	ReasonExternalFileIngestion
	ReasonManualCompaction
	ReasonWriteBufferManager
	ReasonWriteBufferFull
	ReasonTest
	ReasonDeleteFiles
	ReasonAutoCompaction
	ReasonManualFlush
	ReasonErrorRecovery
	ReasonWalFull
)

// String returns the human-readable label for a flush reason, mirroring
// GetFlushReasonString.
func (r FlushReason) String() string {
	switch r {
	case ReasonOthers:
		return "Other Reasons"
	case ReasonGetLiveFiles:
		return "Get Live Files"
	case ReasonShutDown:
		return "Shut down"
	case ReasonExternalFileIngestion:
		return "External File Ingestion"
	case ReasonManualCompaction:
		return "Manual Compaction"
	case ReasonWriteBufferManager:
		return "Write Buffer Manager"
	case ReasonWriteBufferFull:
		return "Write Buffer Full"
	case ReasonTest:
		return "Test"
	case ReasonDeleteFiles:
		return "Delete Files"
	case ReasonAutoCompaction:
		return "Auto Compaction"
	case ReasonManualFlush:
		return "Manual Flush"
	case ReasonErrorRecovery:
		return "Error Recovery"
	case ReasonWalFull:
		return "WAL Full"
	default:
		return "Invalid"
	}
}

// Event is one structured flush-lifecycle record. Logger writes these as
// newline-delimited JSON, one document per event, matching the teacher's
// config/serialization conventions (encoding/json for wire records,
// go-humanize for the human-readable summary fields).
type Event struct {
	Time             time.Time   `json:"time"`
	ColumnFamilyName string      `json:"cf_name"`
	Reason           FlushReason `json:"flush_reason"`
	ReasonName       string      `json:"flush_reason_name"`
	JobID            uint64      `json:"job_id"`
	NumMemtables     int         `json:"num_memtables"`
	FileNumber       uint64      `json:"file_number,omitempty"`
	FileSize         int64       `json:"file_size_bytes,omitempty"`
	FileSizeHuman    string      `json:"file_size_human,omitempty"`
	Mempurge         bool        `json:"mempurge"`
	Status           string      `json:"status"`
	Message          string      `json:"message,omitempty"`
}

// Logger writes flush Events as newline-delimited JSON.
type Logger struct {
	w io.Writer
}

func NewLogger(w io.Writer) *Logger { return &Logger{w: w} }

// Log encodes and writes one event. A marshaling or write failure is
// always non-fatal to the flush itself — event logging never blocks
// forward progress of the job.
func (l *Logger) Log(ev Event) error {
	if ev.FileSize > 0 {
		ev.FileSizeHuman = humanize.Bytes(uint64(ev.FileSize))
	}
	enc := json.NewEncoder(l.w)
	return enc.Encode(ev)
}
