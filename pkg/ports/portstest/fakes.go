package portstest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/classedge/sensei/pkg/models"
	"github.com/classedge/sensei/pkg/ports"
)

// FakeClock is a manually advanced ports.Clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts the clock at now.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// FakeRandom returns scripted values, cycling when exhausted.
type FakeRandom struct {
	mu     sync.Mutex
	values []int64
	next   int
}

// NewFakeRandom scripts the sequence of Int64 results.
func NewFakeRandom(values ...int64) *FakeRandom {
	if len(values) == 0 {
		values = []int64{0}
	}
	return &FakeRandom{values: values}
}

func (r *FakeRandom) Int64() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.values[r.next%len(r.values)]
	r.next++
	return v
}

// ScriptedLLM streams a fixed token sequence per call. Errs[i] aborts
// call i with an ErrorChunk after Tokens have been sent; once Errs is
// exhausted calls succeed.
type ScriptedLLM struct {
	Tokens    []string
	Usage     *ports.Usage
	Errs      []error
	HealthErr error

	mu    sync.Mutex
	calls int
}

func (l *ScriptedLLM) Stream(ctx context.Context, _ ports.StreamRequest) (<-chan ports.LLMChunk, error) {
	l.mu.Lock()
	call := l.calls
	l.calls++
	var callErr error
	if call < len(l.Errs) {
		callErr = l.Errs[call]
	}
	l.mu.Unlock()

	ch := make(chan ports.LLMChunk)
	go func() {
		defer close(ch)
		if callErr != nil {
			select {
			case ch <- ports.ErrorChunk{Err: callErr}:
			case <-ctx.Done():
			}
			return
		}
		for _, tok := range l.Tokens {
			select {
			case ch <- ports.TokenChunk{Content: tok}:
			case <-ctx.Done():
				return
			}
		}
		if l.Usage != nil {
			select {
			case ch <- ports.UsageChunk{Usage: *l.Usage}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (l *ScriptedLLM) Health(context.Context) error { return l.HealthErr }

// Calls reports how many streams were started.
func (l *ScriptedLLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// FakeEmbedder hashes text length into a fixed-dimension vector. Errs[i]
// fails call i; once exhausted calls succeed.
type FakeEmbedder struct {
	Dim       int
	Errs      []error
	HealthErr error

	mu    sync.Mutex
	calls int
}

func (e *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	e.mu.Unlock()
	if call < len(e.Errs) && e.Errs[call] != nil {
		return nil, e.Errs[call]
	}
	dim := e.Dim
	if dim == 0 {
		dim = 4
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(len(text)%7) / 7
	}
	return vec, nil
}

func (e *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *FakeEmbedder) Dimension() int {
	if e.Dim == 0 {
		return 4
	}
	return e.Dim
}

func (e *FakeEmbedder) Health(context.Context) error { return e.HealthErr }

// Calls reports how many Embed calls were made.
func (e *FakeEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// MemVectorStore serves scripted retrieval results per subject and
// records chunk sets for install-path tests.
type MemVectorStore struct {
	// Results is returned by TopK (trimmed to k), keyed by subject.
	Results map[string][]models.RetrievedChunk
	TopKErr error

	mu       sync.Mutex
	chunks   map[string][]models.Chunk
	replaces int
}

func NewMemVectorStore() *MemVectorStore {
	return &MemVectorStore{
		Results: make(map[string][]models.RetrievedChunk),
		chunks:  make(map[string][]models.Chunk),
	}
}

func (v *MemVectorStore) TopK(_ context.Context, subject string, _ []float32, k int) ([]models.RetrievedChunk, error) {
	if v.TopKErr != nil {
		return nil, v.TopKErr
	}
	res := v.Results[subject]
	if len(res) > k {
		res = res[:k]
	}
	return append([]models.RetrievedChunk(nil), res...), nil
}

func (v *MemVectorStore) Upsert(_ context.Context, subject string, chunks []models.Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunks[subject] = append(v.chunks[subject], chunks...)
	return nil
}

func (v *MemVectorStore) ReplaceSubject(_ context.Context, subject string, chunks []models.Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunks[subject] = append([]models.Chunk(nil), chunks...)
	v.replaces++
	return nil
}

func (v *MemVectorStore) DeleteSubject(_ context.Context, subject string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.chunks, subject)
	return nil
}

func (v *MemVectorStore) CountChunks(_ context.Context, subject string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.chunks[subject]), nil
}

func (v *MemVectorStore) Health(context.Context) error { return nil }

// Chunks returns the stored chunk set for a subject.
func (v *MemVectorStore) Chunks(subject string) []models.Chunk {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.Chunk(nil), v.chunks[subject]...)
}

// Replaces reports how many ReplaceSubject calls were made.
func (v *MemVectorStore) Replaces() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.replaces
}

// MemBlobStore is an in-memory ports.BlobStore.
type MemBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	GetErr  error
	PutErr  error
	ListErr error
}

func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{objects: make(map[string][]byte)}
}

func (b *MemBlobStore) List(_ context.Context, prefix string) ([]ports.ObjectInfo, error) {
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []ports.ObjectInfo
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ports.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *MemBlobStore) Get(_ context.Context, key string) ([]byte, string, error) {
	if b.GetErr != nil {
		return nil, "", b.GetErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, "", ports.ErrNotFound
	}
	return append([]byte(nil), data...), "", nil
}

func (b *MemBlobStore) Put(_ context.Context, key string, data []byte) error {
	if b.PutErr != nil {
		return b.PutErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemBlobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

// Keys lists all stored keys sorted.
func (b *MemBlobStore) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
