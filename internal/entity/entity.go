// Package entity stores entity blobs under /entity/{id}. The store is a plain
// kernel client: every access goes through syscalls, and read-modify-write
// sequences run inside the kernel's per-path transactions.
package entity

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"charfs/internal/capability"
	"charfs/internal/errno"
	"charfs/internal/logging"
	"charfs/internal/vfs"
)

var (
	logger = logging.GetLogger().WithPrefix("entity")
)

// Root is the directory holding entity files.
const Root = "/entity"

// Metadata is maintained by the store.
type Metadata struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

// Entity is one stored record.
type Entity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
	Metadata   Metadata       `json:"metadata"`
}

// Property decodes the property key of e into T.
func Property[T any](e Entity, key string) (T, bool) {
	v, ok := e.Properties[key]
	if !ok {
		var zero T
		return zero, false
	}
	r := capability.DecodeArg[T](v)
	return r.Value, r.OK()
}

// SetProperty stores v under key.
func (e *Entity) SetProperty(key string, v any) {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	e.Properties[key] = v
}

// Idempotency remembers which entity a client supplied key created.
type Idempotency interface {
	Recall(key string) (string, bool)
	Remember(key, id string)
}

// Store reads and writes entities through a kernel.
type Store struct {
	sys  capability.Syscalls
	idem Idempotency
	now  func() time.Time
}

// NewStore returns a store over sys. idem may be nil when idempotency keys
// are not used.
func NewStore(sys capability.Syscalls, idem Idempotency) *Store {
	return &Store{sys: sys, idem: idem, now: time.Now}
}

// Path returns the file path of entity id.
func Path(id string) string {
	return vfs.Join(Root, id)
}

// ValidID reports whether id can name an entity file.
func ValidID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, "/") && !strings.HasPrefix(id, ".")
}

// Create stores e under a new id (a UUID when e.ID is empty). An existing id
// is EEXIST. When key is non-empty and was seen before, the entity it created
// is returned instead.
func (s *Store) Create(ctx context.Context, e Entity, key string) errno.Result[Entity] {
	if key != "" && s.idem != nil {
		if id, ok := s.idem.Recall(key); ok {
			if prior := s.Get(ctx, id); prior.OK() {
				logger.Debug("Idempotency key %q already created %s", key, id)
				return prior
			}
		}
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if !ValidID(e.ID) {
		return errno.Fail[Entity](errno.EINVAL)
	}
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	now := s.now().UTC()
	e.Metadata = Metadata{CreatedAt: now, UpdatedAt: now, Version: 1}

	if code := s.sys.Mkdir(ctx, Root, true); code != errno.SUCCESS {
		return errno.Fail[Entity](code)
	}

	path := Path(e.ID)
	code := s.sys.Transact(ctx, path, func() errno.Code {
		if s.sys.Exists(ctx, path) {
			return errno.EEXIST
		}
		return s.sys.Create(ctx, path, e)
	})
	if code != errno.SUCCESS {
		return errno.Fail[Entity](code)
	}

	if key != "" && s.idem != nil {
		s.idem.Remember(key, e.ID)
	}
	logger.Debug("Created %s entity %s (%s)", e.Type, e.ID, e.Name)
	return errno.Ok(e)
}

// Get loads entity id.
func (s *Store) Get(ctx context.Context, id string) errno.Result[Entity] {
	if !ValidID(id) {
		return errno.Fail[Entity](errno.EINVAL)
	}
	return s.read(ctx, Path(id))
}

func (s *Store) read(ctx context.Context, path string) errno.Result[Entity] {
	fd := s.sys.Open(ctx, path, vfs.ModeRead)
	if !fd.OK() {
		return errno.Fail[Entity](fd.Code)
	}
	defer s.sys.Close(ctx, fd.Value)

	raw := s.sys.Read(ctx, fd.Value)
	if !raw.OK() {
		return errno.Fail[Entity](raw.Code)
	}
	e := capability.DecodeArg[Entity](raw.Value)
	if !e.OK() {
		logger.Warn("Entity file %s is not an entity", path)
		return errno.Fail[Entity](errno.EIO)
	}
	return e
}

// Update applies fn to entity id inside a transaction on its path and writes
// the result with the version bumped. fn returning a failure aborts without
// writing.
func (s *Store) Update(ctx context.Context, id string, fn func(*Entity) errno.Code) errno.Result[Entity] {
	if !ValidID(id) {
		return errno.Fail[Entity](errno.EINVAL)
	}
	path := Path(id)

	var updated Entity
	code := s.sys.Transact(ctx, path, func() errno.Code {
		cur := s.read(ctx, path)
		if !cur.OK() {
			return cur.Code
		}
		e := cur.Value
		if code := fn(&e); code != errno.SUCCESS {
			return code
		}

		e.ID = id
		e.Metadata.CreatedAt = cur.Value.Metadata.CreatedAt
		e.Metadata.Version = cur.Value.Metadata.Version + 1
		e.Metadata.UpdatedAt = s.now().UTC()

		fd := s.sys.Open(ctx, path, vfs.ModeWrite)
		if !fd.OK() {
			return fd.Code
		}
		defer s.sys.Close(ctx, fd.Value)
		if code := s.sys.Write(ctx, fd.Value, e); code != errno.SUCCESS {
			return code
		}
		updated = e
		return errno.SUCCESS
	})
	if code != errno.SUCCESS {
		return errno.Fail[Entity](code)
	}
	return errno.Ok(updated)
}

// Delete removes entity id.
func (s *Store) Delete(ctx context.Context, id string) errno.Code {
	if !ValidID(id) {
		return errno.EINVAL
	}
	path := Path(id)
	return s.sys.Transact(ctx, path, func() errno.Code {
		return s.sys.Unlink(ctx, path)
	})
}

// List returns the stored entities in id order. A non-empty typ filters by
// entity type.
func (s *Store) List(ctx context.Context, typ string) errno.Result[[]Entity] {
	entries := s.sys.Readdir(ctx, Root)
	if entries.Code == errno.ENOENT {
		return errno.Ok([]Entity{})
	}
	if !entries.OK() {
		return errno.Fail[[]Entity](entries.Code)
	}

	out := make([]Entity, 0, len(entries.Value))
	for _, de := range entries.Value {
		if de.Kind != vfs.KindFile || !ValidID(de.Name) {
			continue
		}
		e := s.read(ctx, Path(de.Name))
		if !e.OK() {
			logger.Warn("Skipping unreadable entity %s: %s", de.Name, e.Code)
			continue
		}
		if typ != "" && e.Value.Type != typ {
			continue
		}
		out = append(out, e.Value)
	}
	return errno.Ok(out)
}

// MarshalJSON keeps Properties an object even when empty.
func (e Entity) MarshalJSON() ([]byte, error) {
	type plain Entity
	p := plain(e)
	if p.Properties == nil {
		p.Properties = map[string]any{}
	}
	return json.Marshal(p)
}
