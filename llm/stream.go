package llm

import (
	"iter"
	"strings"
	"sync"
)

// Stream is a lazy, finite, non-restartable sequence of text fragments in
// generation order. It must be consumed by a single owner:
//
//	defer s.Close()
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
//
// Close abandons the stream and releases the underlying transport. Like Next
// it belongs to the owning goroutine and must not run concurrently with Next.
// To stop a stalled stream from another goroutine, cancel the context passed
// to Chat; the pending Next then returns false with a retryable error.
// Reaching the end of the stream closes it as well.
type Stream interface {
	Next() bool
	Text() string
	Err() error
	Close() error
}

// NextFunc produces the next fragment. ok is false once the sequence has ended.
// Adapters skip frames without text so that every fragment carries content.
type NextFunc func() (text string, ok bool, err error)

// NewStream builds a Stream from a fragment producer and the closer of the
// transport it reads from.
func NewStream(next NextFunc, closer func() error) Stream {
	return &fragmentStream{
		next:   next,
		closer: closer,
	}
}

type fragmentStream struct {
	next   NextFunc
	closer func() error

	cur  string
	err  error
	done bool

	closeOnce sync.Once
	closeErr  error
}

func (r *fragmentStream) Next() bool {
	if r.done {
		return false
	}
	text, ok, err := r.next()
	if err != nil {
		r.err = err
		r.finish()
		return false
	}
	if !ok {
		r.finish()
		return false
	}
	r.cur = text
	return true
}

func (r *fragmentStream) finish() {
	r.cur = ""
	r.done = true
	_ = r.Close()
}

func (r *fragmentStream) Text() string {
	return r.cur
}

func (r *fragmentStream) Err() error {
	return r.err
}

func (r *fragmentStream) Close() error {
	r.closeOnce.Do(func() {
		r.done = true
		if r.closer != nil {
			r.closeErr = r.closer()
		}
	})
	return r.closeErr
}

// Prime pulls the first fragment so that failures surfacing on the first
// read (HTTP status errors, refused connections) are returned synchronously.
// The returned stream replays the primed fragment first.
func Prime(s Stream) (Stream, error) {
	if s.Next() {
		return &primedStream{Stream: s, head: s.Text(), hasHead: true}, nil
	}
	if err := s.Err(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return &primedStream{Stream: s}, nil
}

type primedStream struct {
	Stream

	head    string
	hasHead bool
	cur     string
}

func (r *primedStream) Next() bool {
	if r.hasHead {
		r.cur = r.head
		r.hasHead = false
		return true
	}
	if r.Stream.Next() {
		r.cur = r.Stream.Text()
		return true
	}
	r.cur = ""
	return false
}

func (r *primedStream) Text() string {
	return r.cur
}

func (r *primedStream) Close() error {
	r.hasHead = false
	return r.Stream.Close()
}

// Collect drains s and returns the concatenated fragments.
func Collect(s Stream) (string, error) {
	defer s.Close()

	var sb strings.Builder
	for s.Next() {
		sb.WriteString(s.Text())
	}
	if err := s.Err(); err != nil {
		return sb.String(), err
	}
	return sb.String(), nil
}

// Fragments adapts s to a range-over-func sequence. Breaking out of the loop
// closes the stream. A mid-stream error is yielded once as the last element.
func Fragments(s Stream) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Text(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield("", err)
		}
	}
}
