// Package session holds per-data-center connection state and the call
// dispatcher that multiplexes concurrent RPC calls over one encrypted
// connection.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/nexgram/nexgram/internal/crypto"
)

// State is the mutable session bound to one data center: the auth key,
// the rotating server salt, and the id/sequence generators. Exactly one
// Conn owns a State at a time; all mutation goes through its methods.
type State struct {
	mu      sync.Mutex
	authKey crypto.AuthKey
	salt    int64
	id      int64

	msgID *msgIDGen
	seqNo *seqNoGen
}

// NewState creates a session around an existing auth key (zero value if
// no handshake has run yet). A random session id is drawn; the server
// treats each id as an independent delivery scope.
func NewState(key crypto.AuthKey, salt int64, now func() time.Time) *State {
	var idRaw [8]byte
	_, _ = rand.Read(idRaw[:])
	return &State{
		authKey: key,
		salt:    salt,
		id:      int64(binary.LittleEndian.Uint64(idRaw[:])),
		msgID:   newMsgIDGen(now),
		seqNo:   &seqNoGen{},
	}
}

// AuthKey returns the current auth key.
func (s *State) AuthKey() crypto.AuthKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authKey
}

// SetAuthKey installs a freshly negotiated key. Only the explicit
// handshake path calls this; the key is never re-derived implicitly.
func (s *State) SetAuthKey(key crypto.AuthKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authKey = key
}

// Salt returns the active server salt.
func (s *State) Salt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.salt
}

// SetSalt replaces the salt with a server-supplied value.
func (s *State) SetSalt(salt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salt = salt
}

// ID returns the session id sent in every encrypted envelope.
func (s *State) ID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// NextMsgID allocates a message id.
func (s *State) NextMsgID() int64 { return s.msgID.Next() }

// NextSeqNo allocates a sequence number.
func (s *State) NextSeqNo(contentRelated bool) int32 { return s.seqNo.Next(contentRelated) }
