package ui

import (
	"fmt"
	"sync"
	"time"
)

// ThroughputCalculator tracks how many items and bytes arrived since it started.
// Record is safe for concurrent use.
type ThroughputCalculator struct {
	mu         sync.Mutex
	startTime  time.Time
	totalItems int64
	totalBytes int64
	now        func() time.Time
}

// NewThroughputCalculator creates a new throughput calculator
func NewThroughputCalculator() *ThroughputCalculator {
	return NewThroughputCalculatorWithClock(time.Now)
}

// NewThroughputCalculatorWithClock creates a calculator reading time from now
func NewThroughputCalculatorWithClock(now func() time.Time) *ThroughputCalculator {
	return &ThroughputCalculator{startTime: now(), now: now}
}

// Record adds one item of the given size
func (t *ThroughputCalculator) Record(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalItems++
	t.totalBytes += bytes
}

// Items returns the number of recorded items
func (t *ThroughputCalculator) Items() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalItems
}

// Bytes returns the number of recorded bytes
func (t *ThroughputCalculator) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalBytes
}

// GetElapsedTime returns time since the calculator was created
func (t *ThroughputCalculator) GetElapsedTime() time.Duration {
	return t.now().Sub(t.startTime)
}

// GetAverageItemsPerSecond returns overall average items per second
func (t *ThroughputCalculator) GetAverageItemsPerSecond() float64 {
	elapsed := t.GetElapsedTime().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.Items()) / elapsed
}

// GetAverageBytesPerSecond returns overall average bytes per second
func (t *ThroughputCalculator) GetAverageBytesPerSecond() float64 {
	elapsed := t.GetElapsedTime().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.Bytes()) / elapsed
}

// Summary renders the transfer report printed when a storage server stops
func (t *ThroughputCalculator) Summary() string {
	return fmt.Sprintf("%d files (%s) transferred in %.1f seconds (%.2f files/s, %s)",
		t.Items(), FormatBytes(t.Bytes()), t.GetElapsedTime().Seconds(),
		t.GetAverageItemsPerSecond(), FormatBytesPerSecond(t.GetAverageBytesPerSecond()))
}

var byteUnits = []string{"KB", "MB", "GB", "TB"}

// scaleBytes returns n in the largest binary unit that keeps it >= 1, or "" for plain bytes
func scaleBytes(n float64) (float64, string) {
	unit := ""
	for _, u := range byteUnits {
		if n < 1024 {
			break
		}
		n /= 1024
		unit = u
	}
	return n, unit
}

// FormatBytes renders a size such as "512 B" or "1.50 KB"
func FormatBytes(bytes int64) string {
	v, unit := scaleBytes(float64(bytes))
	if unit == "" {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.2f %s", v, unit)
}

// FormatBytesPerSecond renders a transfer rate such as "2.00 KB/sec"
func FormatBytesPerSecond(bytesPerSec float64) string {
	v, unit := scaleBytes(bytesPerSec)
	if unit == "" {
		return fmt.Sprintf("%.0f B/sec", v)
	}
	return fmt.Sprintf("%.2f %s/sec", v, unit)
}

// FormatDuration formats a duration as a human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
