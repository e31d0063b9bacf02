package release

import "sync"

// Progress is a snapshot of an Apply call. Bytes are compressed bytes
// measured against the target manifest, with files that need no work counted
// as done from the start.
type Progress struct {
	BytesDone   int64
	BytesTotal  int64
	FilesDone   int
	FilesTotal  int
	CurrentPath string
}

// progressReporter aggregates worker updates. Sends never block: when the
// channel is full the oldest buffered snapshot is evicted, so a consumer that
// falls behind sees coalesced snapshots, in order, ending with the newest.
type progressReporter struct {
	mu    sync.Mutex
	state Progress
	ch    chan Progress
}

func newProgressReporter(ch chan Progress, target *Manifest, cs ChangeSet) *progressReporter {
	r := &progressReporter{
		ch: ch,
		state: Progress{
			BytesTotal: target.CompressedSize,
			BytesDone:  target.CompressedSize - cs.FetchSize(),
			FilesTotal: target.FileCount,
			FilesDone:  target.FileCount - len(cs.ToFetch),
		},
	}
	r.emit()
	return r
}

func (r *progressReporter) start(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.CurrentPath = path
	r.emit()
}

func (r *progressReporter) done(entry FileEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.BytesDone += entry.CompressedSize
	r.state.FilesDone++
	r.state.CurrentPath = entry.Path
	r.emit()
}

func (r *progressReporter) snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// emit must be called with mu held. The reporter is the only sender, so once
// a stale snapshot is evicted the send has room unless the channel is
// unbuffered and nobody is receiving.
func (r *progressReporter) emit() {
	if r.ch == nil {
		return
	}
	for {
		select {
		case r.ch <- r.state:
			return
		default:
		}
		if cap(r.ch) == 0 {
			return
		}
		select {
		case <-r.ch:
		default:
		}
	}
}
