// Package recorder writes the published chat stream to rotated JSONL files,
// one file per platform, and hands closed files to the uploader.
package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/john/multichat/internal/config"
	"github.com/john/multichat/internal/message"
)

// FileTimeFormat is the timestamp layout in archive file names
const FileTimeFormat = "20060102_150405"

// fileWriter manages a single JSONL file
type fileWriter struct {
	file         *os.File
	writer       *bufio.Writer
	createdAt    time.Time
	bytesWritten int64
	buffered     int
	platform     message.Platform
	filename     string
}

// Recorder buffers published events and writes them to disk. It is a hub
// subscriber: Deliver never blocks, and events arriving while the queue is
// full are dropped.
type Recorder struct {
	outputDir     string
	bufferSize    int
	rotateAfter   time.Duration
	rotateBytes   int64
	rotationCheck time.Duration
	now           func() time.Time
	log           *slog.Logger
	events        chan message.ChatEvent
	currentFiles  map[message.Platform]*fileWriter
}

// New creates a new recorder
func New(cfg config.RecorderConfig) *Recorder {
	bufferSize := max(cfg.BufferSize, 1)
	return &Recorder{
		outputDir:     cfg.OutputDir,
		bufferSize:    bufferSize,
		rotateAfter:   time.Duration(cfg.RotateMinutes) * time.Minute,
		rotateBytes:   int64(cfg.RotateMegabytes) * 1024 * 1024,
		rotationCheck: time.Minute,
		now:           time.Now,
		log:           slog.Default().With("component", "recorder"),
		events:        make(chan message.ChatEvent, bufferSize*10),
		currentFiles:  make(map[message.Platform]*fileWriter),
	}
}

// Deliver queues ev for writing
func (r *Recorder) Deliver(ev message.ChatEvent) {
	select {
	case r.events <- ev:
	default:
		r.log.Warn("recorder queue full, dropping event", "platform", ev.Platform)
	}
}

// Start records events until ctx is done, then flushes and closes every
// file. Closed files are sent on fileChan.
func (r *Recorder) Start(ctx context.Context, fileChan chan<- string) error {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(r.rotationCheck)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.events:
			if err := r.record(ev); err != nil {
				r.log.Error("error recording event", "error", err)
			}

		case <-ticker.C:
			r.checkRotation(fileChan)

		case <-ctx.Done():
			r.log.Info("recorder shutting down, flushing buffers")
			r.drain()
			r.closeAll(fileChan)
			return ctx.Err()
		}
	}
}

// drain records events still queued at shutdown
func (r *Recorder) drain() {
	for {
		select {
		case ev := <-r.events:
			if err := r.record(ev); err != nil {
				r.log.Error("error recording event", "error", err)
			}
		default:
			return
		}
	}
}

// record appends one event to its platform's file
func (r *Recorder) record(ev message.ChatEvent) error {
	fw := r.currentFiles[ev.Platform]
	if fw == nil {
		var err error
		fw, err = r.createFileWriter(ev.Platform)
		if err != nil {
			return fmt.Errorf("create file writer: %w", err)
		}
		r.currentFiles[ev.Platform] = fw
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	n, err := fw.writer.Write(append(data, '\n'))
	fw.bytesWritten += int64(n)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	fw.buffered++
	if fw.buffered >= r.bufferSize {
		fw.buffered = 0
		if err := fw.writer.Flush(); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}

	return nil
}

func (r *Recorder) createFileWriter(platform message.Platform) (*fileWriter, error) {
	now := r.now().UTC()
	filename := fmt.Sprintf("%s_%s.jsonl", platform, now.Format(FileTimeFormat))

	file, err := os.OpenFile(filepath.Join(r.outputDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	r.log.Info("created new archive file", "file", filename)

	return &fileWriter{
		file:      file,
		writer:    bufio.NewWriter(file),
		createdAt: now,
		platform:  platform,
		filename:  filename,
	}, nil
}

// checkRotation closes files past their age or size limit. The next event
// for the platform opens a fresh file.
func (r *Recorder) checkRotation(fileChan chan<- string) {
	now := r.now()
	for platform, fw := range r.currentFiles {
		switch {
		case r.rotateAfter > 0 && now.Sub(fw.createdAt) >= r.rotateAfter:
			r.log.Info("rotating file", "file", fw.filename, "reason", "time limit")
		case r.rotateBytes > 0 && fw.bytesWritten >= r.rotateBytes:
			r.log.Info("rotating file", "file", fw.filename, "reason", "size limit")
		default:
			continue
		}

		r.closeFile(fw, fileChan)
		delete(r.currentFiles, platform)
	}
}

func (r *Recorder) closeAll(fileChan chan<- string) {
	for platform, fw := range r.currentFiles {
		r.closeFile(fw, fileChan)
		delete(r.currentFiles, platform)
	}
	r.log.Info("all files flushed and closed")
}

// closeFile flushes and closes fw, then queues it for upload
func (r *Recorder) closeFile(fw *fileWriter, fileChan chan<- string) {
	if err := fw.writer.Flush(); err != nil {
		r.log.Error("error flushing writer", "file", fw.filename, "error", err)
	}
	if err := fw.file.Close(); err != nil {
		r.log.Error("error closing file", "file", fw.filename, "error", err)
	}

	if fileChan == nil {
		return
	}

	path := filepath.Join(r.outputDir, fw.filename)
	select {
	case fileChan <- path:
		r.log.Info("queued file for upload", "file", fw.filename)
	default:
		r.log.Warn("upload queue full, file will be uploaded on next start", "file", fw.filename)
	}
}
