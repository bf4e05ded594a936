// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/bureau-foundation/streamer/lib/archive"
	"github.com/bureau-foundation/streamer/lib/streamer"
)

// Catalog maps logical file paths to entries inside archives.
type Catalog interface {
	Resolve(path streamer.RequestPath) (streamer.CompressionInfo, bool)
}

// ArchiveCatalog is a Catalog of mounted archives. An archive mounted
// at /game/data makes its entry "textures/stone.dds" available as
// /game/data/textures/stone.dds. When mount points nest, the deepest
// one wins. Safe for concurrent use.
type ArchiveCatalog struct {
	mu     sync.RWMutex
	mounts []*mountedArchive
}

type mountedArchive struct {
	point   streamer.RequestPath
	archive streamer.RequestPath
	// Keyed by the normalized logical path of each entry.
	entries map[string]archive.Entry
	size    int64
}

// MountInfo describes one mounted archive.
type MountInfo struct {
	MountPoint  string
	ArchivePath string
	Entries     int
	Size        int64
}

// NewArchiveCatalog returns an empty catalog.
func NewArchiveCatalog() *ArchiveCatalog {
	return &ArchiveCatalog{}
}

// Mount reads the table of contents of the archive at archivePath and
// exposes its entries below mountPoint. Mounting a second archive at
// the same point replaces the first.
func (c *ArchiveCatalog) Mount(archivePath, mountPoint string) error {
	opened, err := archive.Open(archivePath)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", archivePath, err)
	}
	mounted := &mountedArchive{
		point:   streamer.NewRequestPath(mountPoint),
		archive: streamer.NewRequestPath(archivePath),
		entries: make(map[string]archive.Entry, len(opened.Entries())),
		size:    opened.Size(),
	}
	for _, entry := range opened.Entries() {
		mounted.entries[mounted.point.Join(entry.Name).String()] = entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.mounts {
		if existing.point.Equal(mounted.point) {
			c.mounts[i] = mounted
			return nil
		}
	}
	c.mounts = append(c.mounts, mounted)
	// Deepest mount point first so nested mounts shadow their parents.
	sort.SliceStable(c.mounts, func(i, j int) bool {
		return len(c.mounts[i].point.String()) > len(c.mounts[j].point.String())
	})
	return nil
}

// Unmount removes the archive mounted at mountPoint and reports
// whether there was one.
func (c *ArchiveCatalog) Unmount(mountPoint string) bool {
	point := streamer.NewRequestPath(mountPoint)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, mounted := range c.mounts {
		if mounted.point.Equal(point) {
			c.mounts = append(c.mounts[:i], c.mounts[i+1:]...)
			return true
		}
	}
	return false
}

// Resolve finds the archive entry backing path.
func (c *ArchiveCatalog) Resolve(path streamer.RequestPath) (streamer.CompressionInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key := path.String()
	for _, mounted := range c.mounts {
		if entry, ok := mounted.entries[key]; ok {
			return streamer.CompressionInfo{ArchivePath: mounted.archive, Entry: entry}, true
		}
	}
	return streamer.CompressionInfo{}, false
}

// Mounts lists the mounted archives, deepest mount point first.
func (c *ArchiveCatalog) Mounts() []MountInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	infos := make([]MountInfo, 0, len(c.mounts))
	for _, mounted := range c.mounts {
		infos = append(infos, MountInfo{
			MountPoint:  mounted.point.String(),
			ArchivePath: mounted.archive.String(),
			Entries:     len(mounted.entries),
			Size:        mounted.size,
		})
	}
	return infos
}
