package firestore

import (
	"context"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
)

type sessionKey struct{}

// Session buffers writes made inside a Firestore transaction. Firestore requires every read to
// precede the first write, so writes are queued and applied when the transaction function returns.
// Reads of buffered documents are answered from the buffer.
type Session struct {
	tx *firestore.Transaction

	mu     sync.Mutex
	writes map[string]*pendingWrite
	order  []string
}

type pendingWrite struct {
	ref    *firestore.DocumentRef
	data   any
	create bool
}

func newSession(tx *firestore.Transaction) *Session {
	return &Session{tx: tx, writes: make(map[string]*pendingWrite)}
}

// WithSession stores the session in ctx.
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFrom returns the session bound to ctx.
func SessionFrom(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(*Session)
	return session, ok && session != nil
}

// Tx exposes the underlying transaction for reads.
func (s *Session) Tx() *firestore.Transaction {
	return s.tx
}

// Create queues a document creation. Creating a document that is already buffered fails.
func (s *Session) Create(ref *firestore.DocumentRef, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.writes[ref.Path]; exists {
		return &Error{op: "create", code: codes.AlreadyExists, err: errDuplicateWrite}
	}
	s.queue(ref, data, true)
	return nil
}

// Set queues a full document write. A Set on a buffered create keeps the create semantics.
func (s *Session) Set(ref *firestore.DocumentRef, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.writes[ref.Path]; ok {
		existing.data = data
		return
	}
	s.queue(ref, data, false)
}

func (s *Session) queue(ref *firestore.DocumentRef, data any, create bool) {
	s.writes[ref.Path] = &pendingWrite{ref: ref, data: data, create: create}
	s.order = append(s.order, ref.Path)
}

// Pending returns the buffered value for ref.
func (s *Session) Pending(ref *firestore.DocumentRef) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	write, ok := s.writes[ref.Path]
	if !ok {
		return nil, false
	}
	return write.data, true
}

// PendingIn lists buffered documents of the collection in write order, keyed by document ID.
func (s *Session) PendingIn(collection *firestore.CollectionRef) []PendingDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []PendingDoc
	for _, path := range s.order {
		write := s.writes[path]
		if write.ref.Parent == nil || write.ref.Parent.Path != collection.Path {
			continue
		}
		docs = append(docs, PendingDoc{ID: write.ref.ID, Data: write.data})
	}
	return docs
}

// PendingDoc is a buffered document awaiting commit.
type PendingDoc struct {
	ID   string
	Data any
}

func (s *Session) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range s.order {
		write := s.writes[path]
		var err error
		if write.create {
			err = s.tx.Create(write.ref, write.data)
		} else {
			err = s.tx.Set(write.ref, write.data)
		}
		if err != nil {
			return WrapError("flush", err)
		}
	}
	return nil
}
