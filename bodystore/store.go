package bodystore

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"

	"github.com/fuxiaohei/lol-serverless/errors"
)

// Handle identifies a body within one Store. Zero is never issued by New*
// but is accepted by Write as "allocate on first use" per spec.md §4.2.
type Handle = uint32

// defaultReadSize is used when the guest passes size=0 to Read.
const defaultReadSize = 128 * 1024

// readChunk is the increment the store pulls from an underlying reader
// while accumulating toward defaultReadSize/the caller's requested size.
// Not part of the guest contract — purely an internal buffering choice.
const readChunk = 32 * 1024

// Store is the per-request body table of spec.md §3/§4.2. Not safe to share
// across requests; a Context owns exactly one Store for its lifetime.
type Store struct {
	mu sync.Mutex

	nextID atomic.Uint32

	owned    map[Handle]io.Reader
	residual map[Handle][]byte
	streams  map[Handle]io.Reader
	senders  map[Handle]*sender
	closed   map[Handle]bool
}

// New creates an empty body store.
func New() *Store {
	return &Store{
		owned:    make(map[Handle]io.Reader),
		residual: make(map[Handle][]byte),
		streams:  make(map[Handle]io.Reader),
		senders:  make(map[Handle]*sender),
		closed:   make(map[Handle]bool),
	}
}

func (s *Store) allocate() Handle {
	return s.nextID.Add(1)
}

// NewEmpty reserves a handle with no associated body yet.
func (s *Store) NewEmpty() Handle {
	return s.allocate()
}

// SetBody installs an Owned body under id, allocating a new handle when
// id==0. Returns the handle actually used.
func (s *Store) SetBody(id Handle, body io.Reader) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := id
	if handle == 0 {
		handle = s.allocate()
	}
	s.owned[handle] = body
	return handle
}

// TakeBody removes and returns an Owned body's reader. Used by the pipeline
// to hand the guest's returned response body handle to the HTTP writer.
func (s *Store) TakeBody(id Handle) (io.Reader, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if body, ok := s.owned[id]; ok {
		delete(s.owned, id)
		return body, true
	}
	if stream, ok := s.streams[id]; ok {
		delete(s.streams, id)
		return stream, true
	}
	return nil, false
}

// Read consumes at most size bytes (default 128 KiB when size==0) from the
// body at handle, per spec.md §4.2's residual/promotion/exhaustion
// contract: a residual buffer larger than size is split and returned with
// eof=false; otherwise Owned is promoted to Streaming and chunks are pulled
// until the residual exceeds size or the stream ends, at which point the
// final (possibly short) chunk is returned with eof=false and exactly one
// subsequent call returns (nil, true, nil).
func (s *Store) Read(handle Handle, size uint32) ([]byte, bool, error) {
	readSize := size
	if readSize == 0 {
		readSize = defaultReadSize
	}

	s.mu.Lock()
	buf := s.residual[handle]
	delete(s.residual, handle)

	if len(buf) > int(readSize) {
		read, rest := buf[:readSize], buf[readSize:]
		s.residual[handle] = append([]byte(nil), rest...)
		s.mu.Unlock()
		return read, false, nil
	}

	if owned, ok := s.owned[handle]; ok {
		delete(s.owned, handle)
		s.streams[handle] = owned
	}
	stream, ok := s.streams[handle]
	s.mu.Unlock()

	if !ok {
		return nil, false, errors.InvalidHandle(handle)
	}

	chunk := make([]byte, readChunk)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err != io.EOF {
				return nil, false, errors.ReadFailed(err)
			}
			if len(buf) == 0 {
				return nil, true, nil
			}
			return buf, false, nil
		}
		if len(buf) > int(readSize) {
			read, rest := buf[:readSize], buf[readSize:]
			s.mu.Lock()
			s.residual[handle] = append([]byte(nil), rest...)
			s.mu.Unlock()
			return read, false, nil
		}
	}
}

// ReadAll closes any sender for handle (so the guest can no longer append
// after this call starts draining it) and reads until eof.
func (s *Store) ReadAll(handle Handle) ([]byte, error) {
	s.closeSender(handle)

	var out []byte
	for {
		chunk, eof, err := s.Read(handle, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if eof {
			return out, nil
		}
	}
}

// NewStream creates a Sender-backed writable body; the matching readable
// view is installed at the same handle so the guest writes and the host
// streams the same data out.
func (s *Store) NewStream() Handle {
	snd, recv := newSender()

	s.mu.Lock()
	defer s.mu.Unlock()

	handle := s.allocate()
	s.senders[handle] = snd
	s.streams[handle] = recv
	return handle
}

// Write appends data to the body at handle. A handle with no sender and no
// existing body becomes a new Owned body (spec.md §4.2's documented "create
// body from bytes" convenience).
func (s *Store) Write(handle Handle, data []byte) (uint64, error) {
	s.mu.Lock()

	if s.closed[handle] {
		s.mu.Unlock()
		return 0, errors.WriteClosed(handle)
	}

	if snd, ok := s.senders[handle]; ok {
		s.mu.Unlock()
		n, err := snd.write(data)
		if err != nil {
			if werr, ok := err.(*errors.Error); ok && werr.Kind == errors.KindWriteClosed {
				return 0, errors.WriteClosed(handle)
			}
			return 0, err
		}
		return n, nil
	}

	if _, ok := s.owned[handle]; ok {
		s.mu.Unlock()
		return 0, errors.ReadOnly(handle)
	}
	if _, ok := s.streams[handle]; ok {
		s.mu.Unlock()
		return 0, errors.ReadOnly(handle)
	}

	s.owned[handle] = bytes.NewReader(data)
	s.mu.Unlock()
	return uint64(len(data)), nil
}

// closeSender finishes the sender for handle and marks handle permanently
// closed to further writes. A handle with no sender (a plain Owned/Streaming
// body, or one not yet written to) is left untouched — marking it closed
// here would permanently block the write-creates-new-Owned-body convenience
// write (Write, below) on a handle that never had a Sender to begin with.
func (s *Store) closeSender(handle Handle) {
	s.mu.Lock()
	snd, ok := s.senders[handle]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.senders, handle)
	s.closed[handle] = true
	s.mu.Unlock()

	snd.finish()
}

// CloseSenders finishes every Sender the Store still holds open. The
// original implementation's Sender lives inside the guest call's scoped
// future and is dropped — closing its channel — the instant handle-request's
// async task completes, even with no explicit close call
// (original_source/lib/wasm-host/src/hostcall/context.rs). Go has no
// scope-based drop, so a caller must call CloseSenders once the guest call
// that produced these handles has returned: otherwise a Sender-backed body
// that the guest wrote to once and never explicitly closed (the common
// "new-stream, write, return the handle" pattern) never reaches eof for a
// reader driving it through chunked Read rather than ReadAll, and the read
// blocks forever.
func (s *Store) CloseSenders() {
	s.mu.Lock()
	handles := make([]Handle, 0, len(s.senders))
	for h := range s.senders {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.closeSender(h)
	}
}
