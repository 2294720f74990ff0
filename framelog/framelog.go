// Package framelog journals every published frame to hour-rotated
// JSONL+zstd files, for replaying and debugging streaming decisions.
package framelog

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/jord/terrain"
	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"
)

// Entry is one journaled frame of one terrain instance.
type Entry struct {
	Time      time.Time `json:"time"`
	Instance  string    `json:"instance"`
	Frame     uint64    `json:"frame"`
	Commands  []Command `json:"commands,omitempty"`
	Activated []string  `json:"activated,omitempty"`
}

// Command mirrors one terrain slot command in its journaled form.
type Command struct {
	Slot uint32 `json:"slot"`
	Node string `json:"node,omitempty"`
	Free bool   `json:"free,omitempty"`
}

// Writer journals entries through a buffered channel so the frame scheduler
// never blocks on disk. When the channel is full, entries are dropped and
// counted.
type Writer struct {
	dir     string
	entries chan Entry
	done    chan struct{}
	dropped atomic.Uint64
	started atomic.Bool
	now     func() time.Time

	// rotation state, owned by the worker goroutine
	curHour string
	file    *os.File
	enc     *zstd.Encoder
	buf     *bufio.Writer
}

func NewWriter(dir string) *Writer {
	return &Writer{
		dir:     dir,
		entries: make(chan Entry, 1024),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Start launches the journal worker. The worker drains what is left in the
// queue and closes the current file when the context is canceled.
func (w *Writer) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

// Record enqueues one frame without blocking.
func (w *Writer) Record(instance string, frame uint64, res terrain.FrameResult) {
	commands := make([]Command, len(res.Commands))
	for i, cmd := range res.Commands {
		commands[i] = Command{
			Slot: uint32(cmd.Slot),
			Node: cmd.Node.String(),
			Free: cmd.Free,
		}
	}

	activated := make([]string, len(res.Activated))
	for i, id := range res.Activated {
		activated[i] = id.String()
	}

	select {
	case w.entries <- Entry{
		Time:      w.now().UTC(),
		Instance:  instance,
		Frame:     frame,
		Commands:  commands,
		Activated: activated,
	}:
	default:
		w.dropped.Add(1)
		instrumentEntryDropped()
	}
}

// Wait blocks until the worker has flushed and exited.
func (w *Writer) Wait() {
	if w.started.Load() {
		<-w.done
	}
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	defer w.closeFile()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-w.entries:
					w.write(e)
				default:
					if n := w.dropped.Load(); n > 0 {
						logs.WithTag("dropped", n).
							Warn("frame journal dropped entries")
					}
					return
				}
			}

		case e := <-w.entries:
			w.write(e)
		}
	}
}

func (w *Writer) write(e Entry) {
	hour := e.Time.Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotate(hour); err != nil {
			logs.Warn(errors.New("rotating frame journal failed").Wrap(err))
			return
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		logs.Warn(errors.New("encoding frame journal entry failed").Wrap(err))
		return
	}

	if _, err = w.buf.Write(b); err == nil {
		err = w.buf.WriteByte('\n')
	}
	if err == nil {
		err = w.buf.Flush()
	}
	if err != nil {
		logs.Warn(errors.New("writing frame journal entry failed").Wrap(err))
	}
}

func (w *Writer) rotate(hour string) error {
	w.closeFile()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return err
	}

	w.file = f
	w.enc = enc
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *Writer) closeFile() {
	if w.file == nil {
		return
	}

	if err := w.buf.Flush(); err != nil {
		logs.Warn(errors.New("flushing frame journal failed").Wrap(err))
	}
	if err := w.enc.Close(); err != nil {
		logs.Warn(errors.New("closing frame journal encoder failed").Wrap(err))
	}
	if err := w.file.Close(); err != nil {
		logs.Warn(errors.New("closing frame journal file failed").Wrap(err))
	}

	w.file = nil
	w.enc = nil
	w.buf = nil
	w.curHour = ""
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.dir, "jord-frames-"+hour+".jsonl.zst")
}
