package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/qiangli/mychat/api"
)

// sliceStream yields parts then optionally fails.
func sliceStream(parts []string, failWith error) (Stream, *int) {
	closed := new(int)
	i := 0
	next := func() (string, bool, error) {
		if i < len(parts) {
			p := parts[i]
			i++
			return p, true, nil
		}
		if failWith != nil {
			return "", false, failWith
		}
		return "", false, nil
	}
	return NewStream(next, func() error {
		*closed++
		return nil
	}), closed
}

func TestCollect(t *testing.T) {
	s, closed := sliceStream([]string{"Binary", " search"}, nil)
	text, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "Binary search" {
		t.Errorf("expected %q, got %q", "Binary search", text)
	}
	if *closed != 1 {
		t.Errorf("expected closer to run once, ran %d", *closed)
	}
}

func TestStreamErrorAtIteration(t *testing.T) {
	boom := api.NewRetryableProviderError("x", 0, "reset", nil)
	s, closed := sliceStream([]string{"a"}, boom)

	var got []string
	for s.Next() {
		got = append(got, s.Text())
	}
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("unexpected fragments %v", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("expected error at iteration, got %v", s.Err())
	}
	if *closed != 1 {
		t.Errorf("stream should close itself on error")
	}
	if s.Next() {
		t.Errorf("stream must not restart")
	}
}

func TestStreamCloseIdempotent(t *testing.T) {
	s, closed := sliceStream([]string{"a", "b"}, nil)
	if !s.Next() {
		t.Fatalf("expected first fragment")
	}
	_ = s.Close()
	_ = s.Close()
	if s.Next() {
		t.Errorf("closed stream yielded a fragment")
	}
	if *closed != 1 {
		t.Errorf("expected closer to run once, ran %d", *closed)
	}
}

func TestPrime(t *testing.T) {
	s, _ := sliceStream([]string{"one", "two"}, nil)
	p, err := Prime(s)
	if err != nil {
		t.Fatalf("Prime: %v", err)
	}
	text, err := Collect(p)
	if err != nil || text != "onetwo" {
		t.Fatalf("expected onetwo, got %q %v", text, err)
	}
}

func TestPrimeSurfacesImmediateError(t *testing.T) {
	boom := api.NewProviderError("x", 401, "unauthorized", nil)
	s, closed := sliceStream(nil, boom)
	p, err := Prime(s)
	if p != nil || !errors.Is(err, boom) {
		t.Fatalf("expected synchronous error, got %v %v", p, err)
	}
	if *closed != 1 {
		t.Errorf("expected stream to be closed")
	}
}

func TestPrimeEmpty(t *testing.T) {
	s, _ := sliceStream(nil, nil)
	p, err := Prime(s)
	if err != nil {
		t.Fatalf("Prime: %v", err)
	}
	if p.Next() {
		t.Errorf("empty stream yielded a fragment")
	}
}

func TestFragmentsBreakCloses(t *testing.T) {
	s, closed := sliceStream([]string{"a", "b", "c"}, nil)
	var got []string
	for text, err := range Fragments(s) {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		got = append(got, text)
		break
	}
	if strings.Join(got, "") != "a" {
		t.Errorf("unexpected fragments %v", got)
	}
	if *closed != 1 {
		t.Errorf("breaking out of the loop must close the stream")
	}
}

func TestResponseText(t *testing.T) {
	r := &Response{Content: "done"}
	if text, _ := r.Text(); text != "done" || r.IsStream() {
		t.Errorf("unexpected complete response %q", text)
	}

	s, _ := sliceStream([]string{"a", "b"}, nil)
	r = &Response{Stream: s}
	if text, _ := r.Text(); text != "ab" || !r.IsStream() {
		t.Errorf("unexpected streamed response %q", text)
	}
}

func TestRequestValidate(t *testing.T) {
	var req *Request
	if err := req.Validate("x"); !api.IsConfigurationError(err) {
		t.Errorf("nil request should be a configuration error, got %v", err)
	}
	req = &Request{Messages: []*api.Message{api.UserMessage("hi")}}
	if err := req.Validate("x"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}
