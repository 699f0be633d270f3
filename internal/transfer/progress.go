package transfer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jaywantadh/xferstream/internal/engine"
)

// ProgressTracker keeps speed and ETA estimates for running handles.
type ProgressTracker struct {
	transfers map[string]*TransferProgress
	mu        sync.RWMutex
	now       func() time.Time
}

// TransferProgress is the last known progress of one handle.
type TransferProgress struct {
	HandleID       string
	URL            string
	Uploaded       int64
	UploadTotal    int64
	Downloaded     int64
	DownloadTotal  int64
	StartTime      time.Time
	LastUpdateTime time.Time
	Speed          float64 // bytes per second, both directions
	EstimatedTime  time.Duration
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		transfers: make(map[string]*TransferProgress),
		now:       time.Now,
	}
}

// StartTracking begins tracking the handle with the given id.
func (pt *ProgressTracker) StartTracking(handleID, url string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	now := pt.now()
	pt.transfers[handleID] = &TransferProgress{
		HandleID:       handleID,
		URL:            url,
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Func returns a progress callback feeding the tracker, suitable for
// Handle.OnProgress.
func (pt *ProgressTracker) Func(handleID string) engine.ProgressFunc {
	return func(p engine.Progress) error {
		pt.Update(handleID, p)
		return nil
	}
}

// Update records a progress tick.
func (pt *ProgressTracker) Update(handleID string, p engine.Progress) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	progress, exists := pt.transfers[handleID]
	if !exists {
		return
	}

	now := pt.now()
	progress.Uploaded, progress.UploadTotal = p.UploadNow, p.UploadTotal
	progress.Downloaded, progress.DownloadTotal = p.DownloadNow, p.DownloadTotal
	progress.LastUpdateTime = now

	done := p.UploadNow + p.DownloadNow
	if elapsed := now.Sub(progress.StartTime).Seconds(); elapsed > 0 {
		progress.Speed = float64(done) / elapsed
	}

	progress.EstimatedTime = 0
	total := p.UploadTotal + p.DownloadTotal
	if progress.Speed > 0 && total > done {
		remaining := float64(total - done)
		progress.EstimatedTime = time.Duration(remaining / progress.Speed * float64(time.Second))
	}
}

// GetProgress returns a copy of the handle's progress.
func (pt *ProgressTracker) GetProgress(handleID string) (TransferProgress, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	progress, exists := pt.transfers[handleID]
	if !exists {
		return TransferProgress{}, false
	}
	return *progress, true
}

func (pt *ProgressTracker) RemoveTransfer(handleID string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	delete(pt.transfers, handleID)
}

// PrintProgress writes a one-line summary of the handle's progress to w.
func (pt *ProgressTracker) PrintProgress(w io.Writer, handleID string) {
	progress, exists := pt.GetProgress(handleID)
	if !exists {
		fmt.Fprintf(w, "transfer %s not found\n", handleID)
		return
	}

	line := fmt.Sprintf("\r%s  up %s/%s  down %s/%s",
		progress.URL,
		formatBytes(progress.Uploaded), formatTotal(progress.UploadTotal),
		formatBytes(progress.Downloaded), formatTotal(progress.DownloadTotal))
	if progress.Speed > 0 {
		line += fmt.Sprintf("  %s/s", formatBytes(int64(progress.Speed)))
	}
	if progress.EstimatedTime > 0 {
		line += "  eta " + formatDuration(progress.EstimatedTime)
	}
	fmt.Fprint(w, line)
}

func formatTotal(n int64) string {
	if n <= 0 {
		return "?"
	}
	return formatBytes(n)
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.0fh", d.Hours())
}
