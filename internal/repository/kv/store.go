// Package kv implements the repositories on an embedded Pebble database.
//
// Key layout (ids are canonical 36-char uuids, sequences are zero padded
// so lexical order is numeric order):
//
//	u:<user>                          user profile
//	c:<conv>                          conversation record
//	cn:<lower(name)>                  channel name -> conv
//	cd:<direct key>                   direct pair -> conv
//	cm:<conv>:<user>                  member record (with unread counter)
//	uc:<user>:<conv>                  user -> conversation index
//	m:<msg>                           message record
//	s:<conv>:<seq>                    conversation log -> msg
//	t:<conv>:<root>:<seq>             thread index -> reply
//	r:<msg>:<user>                    reaction emoji
//
// Pebble has no transactions, so every read-modify-write runs under a
// keyed lock and commits as one batch. Lock order is conversation, then
// message, then thread root.
package kv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/vedran77/pulse/internal/keylock"
	"github.com/vedran77/pulse/internal/repository"
)

const seqPadWidth = 20

type Store struct {
	db     *pebble.DB
	locks  *keylock.Map
	logger *slog.Logger
	now    func() time.Time

	users         *UserRepo
	conversations *ConversationRepo
	messages      *MessageRepo
	reactions     *ReactionRepo
}

// Open opens (or creates) the database in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	return open(dir, &pebble.Options{}, logger)
}

// OpenInMemory opens a throwaway database backed by an in-memory filesystem.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, logger)
}

func open(dir string, opts *pebble.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %q: %w", dir, err)
	}
	s := &Store{db: db, locks: keylock.New(), logger: logger.With("component", "kv"), now: time.Now}
	s.users = &UserRepo{s: s}
	s.conversations = &ConversationRepo{s: s}
	s.messages = &MessageRepo{s: s}
	s.reactions = &ReactionRepo{s: s}
	return s, nil
}

func (s *Store) Users() repository.UserRepository { return s.users }
func (s *Store) Conversations() repository.ConversationRepository { return s.conversations }
func (s *Store) Messages() repository.MessageRepository { return s.messages }
func (s *Store) Reactions() repository.ReactionRepository { return s.reactions }

func (s *Store) Close() error {
	return s.db.Close()
}

func userKey(id uuid.UUID) []byte { return []byte("u:" + id.String()) }
func convKey(id uuid.UUID) []byte { return []byte("c:" + id.String()) }
func channelNameKey(name string) []byte { return []byte("cn:" + name) }
func directKey(key string) []byte { return []byte("cd:" + key) }
func memberPrefix(conv uuid.UUID) []byte { return []byte("cm:" + conv.String() + ":") }
func userConvPrefix(user uuid.UUID) []byte { return []byte("uc:" + user.String() + ":") }
func messageKey(id uuid.UUID) []byte { return []byte("m:" + id.String()) }
func logPrefix(conv uuid.UUID) []byte { return []byte("s:" + conv.String() + ":") }
func reactionPrefix(msg uuid.UUID) []byte { return []byte("r:" + msg.String() + ":") }

func memberKey(conv, user uuid.UUID) []byte {
	return append(memberPrefix(conv), user.String()...)
}

func userConvKey(user, conv uuid.UUID) []byte {
	return append(userConvPrefix(user), conv.String()...)
}

func logKey(conv uuid.UUID, seq uint64) []byte {
	return append(logPrefix(conv), fmt.Sprintf("%0*d", seqPadWidth, seq)...)
}

func threadPrefix(conv, root uuid.UUID) []byte {
	return []byte("t:" + conv.String() + ":" + root.String() + ":")
}

func threadKey(conv, root uuid.UUID, seq uint64) []byte {
	return append(threadPrefix(conv, root), fmt.Sprintf("%0*d", seqPadWidth, seq)...)
}

func reactionKey(msg, user uuid.UUID) []byte {
	return append(reactionPrefix(msg), user.String()...)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// get returns a copy of the value at key, or nil if the key is absent.
func (s *Store) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

func (s *Store) getJSON(key []byte, v any) (bool, error) {
	data, err := s.get(key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, data, nil)
}

func (s *Store) commit(b *pebble.Batch) error {
	defer b.Close()
	if err := b.Commit(pebble.Sync); err != nil {
		s.logger.Error("pebble_commit_failed", "error", err)
		return err
	}
	return nil
}

// scan calls fn for every key/value under prefix. Values are only valid
// for the duration of the call.
func (s *Store) scan(prefix []byte, reverse bool, fn func(key, value []byte) (more bool, err error)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	valid := iter.First()
	step := iter.Next
	if reverse {
		valid = iter.Last()
		step = iter.Prev
	}
	for ; valid; valid = step() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func parseTrailingID(key []byte) (uuid.UUID, error) {
	i := bytes.LastIndexByte(key, ':')
	return uuid.ParseBytes(key[i+1:])
}
