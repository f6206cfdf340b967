package kernel

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/google/uuid"

	"charfs/internal/capability"
	"charfs/internal/errno"
	"charfs/internal/vfs"
)

type mountEntry struct {
	prefix string
	cap    capability.Capability
}

// guard reports ENODEV for capabilities outside the Mounted state.
func (m *mountEntry) guard() errno.Code {
	if g, ok := m.cap.(interface{ Guard() errno.Code }); ok {
		return g.Guard()
	}
	return errno.SUCCESS
}

// MountInfo describes one entry of the mount table.
type MountInfo struct {
	Prefix string
	ID     string
	State  string
}

// noMount marks cached misses.
var noMount = &mountEntry{}

// route returns the mount serving path, matching whole segments and
// preferring the longest prefix.
func (k *Kernel) route(path string) *mountEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.routeLocked(path)
}

func (k *Kernel) routeLocked(path string) *mountEntry {
	if len(k.mounts) == 0 {
		return nil
	}
	if m, ok := k.resolve.Get(path); ok {
		if m == noMount {
			return nil
		}
		return m
	}

	var best *mountEntry
	for _, m := range k.mounts {
		if vfs.HasPrefix(path, m.prefix) && (best == nil || len(m.prefix) > len(best.prefix)) {
			best = m
		}
	}
	if best == nil {
		k.resolve.Add(path, noMount)
	} else {
		k.resolve.Add(path, best)
	}
	return best
}

// Mount attaches c at prefix. Every dependency of c must already be mounted.
// The prefix directory is created; if OnMount fails the mount is undone.
func (k *Kernel) Mount(ctx context.Context, prefix string, c capability.Capability) errno.Code {
	if c == nil || !vfs.IsAbs(prefix) {
		return errno.EINVAL
	}
	prefix = vfs.NormalizePath(prefix)
	if vfs.IsRoot(prefix) {
		return errno.EINVAL
	}

	k.mu.Lock()
	for _, m := range k.mounts {
		if m.prefix == prefix || m.cap == c {
			k.mu.Unlock()
			return errno.EEXIST
		}
	}
	for _, dep := range c.Dependencies() {
		if !k.mountedLocked(dep) {
			k.mu.Unlock()
			logger.Warn("Cannot mount %s at %s: dependency %s is not mounted", c.ID(), prefix, dep.ID())
			return errno.ENODEV
		}
	}
	entry := &mountEntry{prefix: prefix, cap: c}
	k.mounts = append(k.mounts, entry)
	k.resolve.Purge()
	k.mu.Unlock()

	created := !k.fs.Exists(prefix)
	code := k.fs.Mkdir(prefix, true)
	if code == errno.SUCCESS {
		code = callCode("mount", entry, func() errno.Code { return c.OnMount(ctx, k) })
	}
	if code != errno.SUCCESS {
		k.removeMount(entry)
		if created {
			k.fs.Unlink(prefix)
		}
		logger.Error("Mounting %s at %s failed: %s", c.ID(), prefix, code)
		return code
	}

	logger.Info("Mounted %s at %s", c.ID(), prefix)
	return errno.SUCCESS
}

// MountAll mounts caps in dependency order. prefixes maps capability ids to
// mount points.
func (k *Kernel) MountAll(ctx context.Context, prefixes map[string]string, caps ...capability.Capability) error {
	order, err := capability.Order(caps...)
	if err != nil {
		return err
	}
	for _, c := range order {
		prefix, ok := prefixes[c.ID()]
		if !ok {
			return fmt.Errorf("no mount point for capability %q", c.ID())
		}
		if code := k.Mount(ctx, prefix, c); code != errno.SUCCESS {
			return code.Err("mount", prefix)
		}
	}
	return nil
}

// Unmount shuts down the capability at prefix and detaches it. A capability
// other mounted capabilities depend on cannot be unmounted.
func (k *Kernel) Unmount(ctx context.Context, prefix string) errno.Code {
	if !vfs.IsAbs(prefix) {
		return errno.EINVAL
	}
	prefix = vfs.NormalizePath(prefix)

	k.mu.Lock()
	var entry *mountEntry
	for _, m := range k.mounts {
		if m.prefix == prefix {
			entry = m
		}
	}
	if entry == nil {
		k.mu.Unlock()
		return errno.ENOENT
	}
	for _, m := range k.mounts {
		for _, dep := range m.cap.Dependencies() {
			if dep == entry.cap {
				k.mu.Unlock()
				logger.Warn("Cannot unmount %s: %s depends on it", prefix, m.cap.ID())
				return errno.EINVAL
			}
		}
	}
	k.mu.Unlock()

	k.removeMount(entry)
	code := callCode("shutdown", entry, func() errno.Code { return entry.cap.Shutdown(ctx) })
	logger.Info("Unmounted %s from %s", entry.cap.ID(), prefix)
	return code
}

// Mounts lists the mount table in mount order.
func (k *Kernel) Mounts() []MountInfo {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]MountInfo, 0, len(k.mounts))
	for _, m := range k.mounts {
		info := MountInfo{Prefix: m.prefix, ID: m.cap.ID()}
		if s, ok := m.cap.(interface{ State() capability.State }); ok {
			info.State = s.State().String()
		}
		out = append(out, info)
	}
	return out
}

// Prefixes returns the mount prefixes sorted.
func (k *Kernel) Prefixes() []string {
	mounts := k.Mounts()
	out := make([]string, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, m.Prefix)
	}
	sort.Strings(out)
	return out
}

func (k *Kernel) mountedLocked(c capability.Capability) bool {
	for _, m := range k.mounts {
		if m.cap == c {
			return true
		}
	}
	return false
}

func (k *Kernel) removeMount(entry *mountEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	kept := k.mounts[:0]
	for _, m := range k.mounts {
		if m != entry {
			kept = append(kept, m)
		}
	}
	k.mounts = kept
	k.resolve.Purge()
}

// callCode runs a capability method, converting a panic into EIO.
func callCode(op string, m *mountEntry, fn func() errno.Code) (code errno.Code) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Capability %s panicked during %s: %v\n%s", m.cap.ID(), op, r, debug.Stack())
			code = errno.EIO
		}
	}()
	return sanitize(op, m, fn())
}

// callResult is callCode for methods returning a value.
func callResult[T any](op string, m *mountEntry, fn func() errno.Result[T]) (res errno.Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Capability %s panicked during %s: %v\n%s", m.cap.ID(), op, r, debug.Stack())
			res = errno.Fail[T](errno.EIO)
		}
	}()
	res = fn()
	if code := sanitize(op, m, res.Code); code != res.Code {
		return errno.Fail[T](code)
	}
	return res
}

// sanitize maps codes outside the closed set to EIO.
func sanitize(op string, m *mountEntry, code errno.Code) errno.Code {
	if code.Valid() {
		return code
	}
	logger.Error("Capability %s returned unknown code %d during %s", m.cap.ID(), int(code), op)
	return errno.EIO
}

func tempName(path string) string {
	return vfs.Join(vfs.Parent(path), fmt.Sprintf(".%s.%s.tmp", vfs.Base(path), uuid.NewString()))
}
