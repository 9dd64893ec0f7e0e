package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/aidanlsb/formsync/internal/api"
	"github.com/aidanlsb/formsync/internal/model"
)

// Response scripts one delivery attempt of a FakeSink.
type Response struct {
	// Kind empty means success.
	Kind   api.FailureKind
	Status int
}

// Success is the scripted successful response.
var Success = Response{}

// Fail returns a scripted failure of the given kind.
func Fail(kind api.FailureKind) Response {
	status := 0
	switch kind {
	case api.SinkRejected:
		status = http.StatusUnprocessableEntity
	case api.SinkUnavailable:
		status = http.StatusServiceUnavailable
	}
	return Response{Kind: kind, Status: status}
}

// FakeSink records deliveries and answers from a script. Attempts beyond
// the script succeed. It deduplicates on submission id like a real sink.
type FakeSink struct {
	mu        sync.Mutex
	script    []Response
	byID      map[string][]Response
	attempts  []model.PendingSubmission
	delivered []model.PendingSubmission
	seen      map[string]string
	block     chan struct{}
}

// NewFakeSink returns a sink that answers with script in order.
func NewFakeSink(script ...Response) *FakeSink {
	return &FakeSink{
		script: script,
		byID:   make(map[string][]Response),
		seen:   make(map[string]string),
	}
}

// Script appends responses for attempts of one submission id. They take
// precedence over the global script.
func (s *FakeSink) Script(submissionID string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[submissionID] = append(s.byID[submissionID], responses...)
}

// Block makes every Deliver wait until the returned function is called or
// the context ends.
func (s *FakeSink) Block() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.block = ch
	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}

func (s *FakeSink) Deliver(ctx context.Context, p model.PendingSubmission) (*api.SubmitResponse, error) {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &api.DeliveryError{Kind: api.NetworkUnreachable, Err: ctx.Err()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, clonePending(p))

	resp := Success
	if queued := s.byID[p.SubmissionID]; len(queued) > 0 {
		resp = queued[0]
		s.byID[p.SubmissionID] = queued[1:]
	} else if len(s.script) > 0 {
		resp = s.script[0]
		s.script = s.script[1:]
	}

	if resp.Kind != "" {
		return nil, &api.DeliveryError{
			Kind:       resp.Kind,
			StatusCode: resp.Status,
			Err:        fmt.Errorf("scripted %s", resp.Kind),
		}
	}

	if id, ok := s.seen[p.SubmissionID]; ok {
		return &api.SubmitResponse{ID: id, SubmissionID: p.SubmissionID, Duplicate: true}, nil
	}
	id := fmt.Sprintf("rec-%d", len(s.seen)+1)
	s.seen[p.SubmissionID] = id
	s.delivered = append(s.delivered, clonePending(p))
	return &api.SubmitResponse{ID: id, SubmissionID: p.SubmissionID}, nil
}

// Attempts returns every attempt in order, successful or not.
func (s *FakeSink) Attempts() []model.PendingSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PendingSubmission(nil), s.attempts...)
}

// Delivered returns the first successful delivery of each submission, in
// the order the sink accepted them.
func (s *FakeSink) Delivered() []model.PendingSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PendingSubmission(nil), s.delivered...)
}

// DeliveredIDs returns the submission ids of Delivered.
func (s *FakeSink) DeliveredIDs() []string {
	delivered := s.Delivered()
	ids := make([]string, len(delivered))
	for i, p := range delivered {
		ids[i] = p.SubmissionID
	}
	return ids
}

func clonePending(p model.PendingSubmission) model.PendingSubmission {
	p.Data = model.CloneData(p.Data)
	return p
}
