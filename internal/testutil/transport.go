package testutil

import (
	"context"
	"fmt"
	"sync"

	"relsync/internal/release"
)

// FakeTransport serves registered URLs from memory and can inject faults
// per URL. Safe for concurrent use.
type FakeTransport struct {
	mu       sync.Mutex
	content  map[string][]byte
	failures map[string]int
	corrupt  map[string]int
	requests map[string]int
	total    int

	// OnGet, when set, runs after every successful Get.
	OnGet func(url string)
}

// NewFakeTransport creates an empty FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		content:  make(map[string][]byte),
		failures: make(map[string]int),
		corrupt:  make(map[string]int),
		requests: make(map[string]int),
	}
}

// Serve registers data at url.
func (f *FakeTransport) Serve(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[url] = data
}

// BlobLister is a store that can enumerate its blobs.
type BlobLister interface {
	IDs() []release.ContentID
	GetBlob(context.Context, release.ContentID) ([]byte, error)
}

// ServeStore registers every blob of st under prefix.
func (f *FakeTransport) ServeStore(ctx context.Context, st BlobLister, prefix string) error {
	for _, id := range st.IDs() {
		data, err := st.GetBlob(ctx, id)
		if err != nil {
			return err
		}
		f.Serve(prefix+string(id), data)
	}
	return nil
}

// FailNext makes the next n requests for url fail with ErrNetworkFailure.
func (f *FakeTransport) FailNext(url string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = n
}

// CorruptNext makes the next n requests for url return altered bytes.
func (f *FakeTransport) CorruptNext(url string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrupt[url] = n
}

// Requests returns how often url was requested.
func (f *FakeTransport) Requests(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[url]
}

// TotalRequests returns the number of Get calls.
func (f *FakeTransport) TotalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *FakeTransport) Get(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.total++
	f.requests[url]++
	if f.failures[url] > 0 {
		f.failures[url]--
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: injected failure for %s", release.ErrNetworkFailure, url)
	}
	data, ok := f.content[url]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", release.ErrBlobNotFound, url)
	}
	data = append([]byte(nil), data...)
	if f.corrupt[url] > 0 {
		f.corrupt[url]--
		if len(data) == 0 {
			data = []byte{0}
		} else {
			data[len(data)/2] ^= 0xff
		}
	}
	hook := f.OnGet
	f.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	return data, nil
}

var _ release.Transport = (*FakeTransport)(nil)
