package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// screencastRecorder captures CDP screencast frames into a directory of
// sequential JPEGs. The directory itself is the recording artifact.
type screencastRecorder struct {
	dir  string
	page *rod.Page

	mu     sync.Mutex
	frame  int
	stopCh chan struct{}
	once   sync.Once
}

func startScreencast(ctx context.Context, page *rod.Page, dir string) (*screencastRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}

	quality := 60
	everyNth := 2
	err := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		EveryNthFrame: &everyNth,
	}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("start screencast: %w", err)
	}

	rec := &screencastRecorder{dir: dir, page: page, stopCh: make(chan struct{})}

	go page.Context(ctx).EachEvent(func(ev *proto.PageScreencastFrame) {
		select {
		case <-rec.stopCh:
			return
		default:
		}
		_ = proto.PageScreencastFrameAck{SessionID: ev.SessionID}.Call(page)

		// CDP delivers the frame base64-encoded; rod exposes it as raw bytes.
		data := ev.Data
		rec.mu.Lock()
		frame := rec.frame
		rec.frame++
		rec.mu.Unlock()
		_ = os.WriteFile(filepath.Join(rec.dir, fmt.Sprintf("frame_%05d.jpg", frame)), data, 0o644)
	})()

	return rec, nil
}

// stop ends the screencast and returns the recording directory, or empty
// when no frames were captured.
func (r *screencastRecorder) stop() string {
	r.once.Do(func() {
		close(r.stopCh)
		_ = proto.PageStopScreencast{}.Call(r.page)
	})
	r.mu.Lock()
	frames := r.frame
	r.mu.Unlock()
	if frames == 0 {
		return ""
	}
	return r.dir
}
