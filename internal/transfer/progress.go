package transfer

import (
	"math"
	"time"
)

// maxIncomplete is the largest fraction reported before a file completes,
// so 100% is only ever seen together with Completed.
var maxIncomplete = math.Nextafter(1, 0)

// Progress is a per-file snapshot handed to progress callbacks.
type Progress struct {
	FileIndex   int
	Name        string
	Transferred int64
	Total       int64

	// Fraction is in [0, 1) until Completed, then exactly 1.
	Fraction float64

	// Speed is in bytes per second since the first chunk was scheduled.
	Speed float64

	// ETA is zero while the speed is unknown.
	ETA time.Duration

	Paused    bool
	Completed bool
}

// BatchProgress is a whole-batch snapshot.
type BatchProgress struct {
	File       Progress
	TotalFiles int

	// Overall is (completed files + current fraction) / total files.
	Overall float64
}

func overall(p Progress, totalFiles int) BatchProgress {
	bp := BatchProgress{File: p, TotalFiles: totalFiles}
	if totalFiles > 0 {
		bp.Overall = (float64(p.FileIndex) + p.Fraction) / float64(totalFiles)
	}
	if bp.Overall >= 1 && !(p.Completed && p.FileIndex == totalFiles-1) {
		bp.Overall = maxIncomplete
	}
	return bp
}

// meter derives speed and ETA from bytes moved since start.
type meter struct {
	start time.Time
	now   func() time.Time
}

func newMeter() *meter {
	return &meter{start: time.Now(), now: time.Now}
}

func (m *meter) snapshot(index int, name string, done, total int64, paused bool) Progress {
	p := Progress{
		FileIndex:   index,
		Name:        name,
		Transferred: done,
		Total:       total,
		Paused:      paused,
	}

	if total > 0 {
		p.Fraction = math.Min(float64(done)/float64(total), maxIncomplete)
	}

	elapsed := m.now().Sub(m.start).Seconds()
	if elapsed > 0 {
		p.Speed = float64(done) / elapsed
	}
	if p.Speed > 0 {
		remaining := float64(total-done) / p.Speed
		p.ETA = time.Duration(remaining * float64(time.Second))
	}
	return p
}

func (m *meter) complete(index int, name string, total int64) Progress {
	p := m.snapshot(index, name, total, total, false)
	p.Fraction = 1
	p.ETA = 0
	p.Completed = true
	return p
}
