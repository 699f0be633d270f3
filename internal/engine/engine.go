// Package engine defines the contract of the native transfer engine the
// transfer layer drives: per-request descriptors with pull-based read,
// push-based write, header and progress callback slots, and a multi-transfer
// engine that advances every registered descriptor one step per Drive call.
package engine

import "errors"

// Direction selects one half of a transfer for Pause and Resume.
type Direction uint8

const (
	DirRecv Direction = iota + 1
	DirSend
)

func (d Direction) String() string {
	switch d {
	case DirRecv:
		return "recv"
	case DirSend:
		return "send"
	default:
		return "unknown"
	}
}

// Read and write callback sentinels. A read callback returns the number of
// bytes copied, 0 at end of data, ReadPause or ReadAbort. A write callback
// returns len(p) when the chunk was handled or WritePause; any other value
// fails the transfer with CodeWriteError.
const (
	ReadPause  = -1
	ReadAbort  = -2
	WritePause = -1
)

type (
	ReadFunc   func(p []byte) int
	WriteFunc  func(p []byte) int
	HeaderFunc func(line []byte) int
	// ProgressFunc is called on every progress tick. A non-nil error aborts
	// the transfer with CodeAbortedByCallback and the error as its cause.
	ProgressFunc func(p Progress) error
)

// Progress carries byte counters. Totals are zero while unknown.
type Progress struct {
	DownloadTotal int64
	DownloadNow   int64
	UploadTotal   int64
	UploadNow     int64
}

// ErrRecursiveResume is returned by Resume when it is called from inside one
// of the transfer's own callbacks.
var ErrRecursiveResume = errors.New("resume called from inside a transfer callback")

// Transfer is one request descriptor.
type Transfer interface {
	SetOpt(opt Option, value any) error
	Info(info Info) (any, error)

	SetReadFunc(fn ReadFunc)
	SetWriteFunc(fn WriteFunc)
	SetHeaderFunc(fn HeaderFunc)
	SetProgressFunc(fn ProgressFunc)

	Pause(dir Direction) error
	Resume(dir Direction) error

	// Reset restores every option to its default and clears all callbacks.
	Reset()
	Close()
}

// Completion reports a finished transfer. Err is nil when Code is CodeOK.
type Completion struct {
	Transfer Transfer
	Code     Code
	Err      error
}

// Engine multiplexes registered transfers.
type Engine interface {
	NewTransfer() Transfer
	Add(t Transfer) error
	Remove(t Transfer) error
	// Drive advances every registered transfer by one step without blocking
	// and reports whether another step could make progress right away.
	Drive() (pending bool)
	// Completions returns and clears the transfers that finished so far.
	Completions() []Completion
	// SetWakeup installs a function the engine calls, from any goroutine,
	// when a transfer that was idle has work again.
	SetWakeup(fn func())
	Close() error
}
