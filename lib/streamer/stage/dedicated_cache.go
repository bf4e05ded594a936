// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stage

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/streamer/lib/statistics"
	"github.com/bureau-foundation/streamer/lib/streamer"
)

// DedicatedCacheConfig configures a DedicatedCache.
type DedicatedCacheConfig struct {
	// Name labels the stage. Defaults to "dedicated cache".
	Name string

	// BlockSize is the unit reads are split into and cached at.
	BlockSize uint64

	// BlockCount is the number of blocks each file's cache keeps.
	BlockCount int
}

// DedicatedCache keeps per-file block caches for files an application
// reads at random. A file gets a cache with a CreateDedicatedCache
// request and loses it when every creator has sent
// DestroyDedicatedCache. Reads of cached files are split at block
// boundaries; blocks already cached are served from memory and misses
// fetch the whole block from the next stage.
//
// The caches map belongs to the scheduler goroutine. Statistics are
// kept in atomic counters so they can be collected from any goroutine.
type DedicatedCache struct {
	streamer.StageBase
	config DedicatedCacheConfig
	caches map[string]*fileCache

	numCaches    atomic.Int64
	cachedBlocks atomic.Int64
	hits         atomic.Uint64
	misses       atomic.Uint64
	fetches      atomic.Uint64
	bypassed     atomic.Uint64
	destroyed    atomic.Uint64
}

type fileCache struct {
	path       streamer.RequestPath
	references int
	fileSize   uint64
	sizeKnown  bool
	blocks     *lru.Cache[uint64, []byte]
	// Reads waiting for a block fetch in flight, by block index.
	waiting map[uint64][]*streamer.FileRequest
}

// NewDedicatedCache builds the stage.
func NewDedicatedCache(config DedicatedCacheConfig) (*DedicatedCache, error) {
	if config.Name == "" {
		config.Name = "dedicated cache"
	}
	if config.BlockSize == 0 {
		return nil, fmt.Errorf("dedicated cache block size must be positive: %w", streamer.ErrInvalidConfig)
	}
	if config.BlockCount < 1 {
		return nil, fmt.Errorf("dedicated cache needs at least one block: %w", streamer.ErrInvalidConfig)
	}
	return &DedicatedCache{
		StageBase: streamer.NewStageBase(config.Name),
		config:    config,
		caches:    make(map[string]*fileCache),
	}, nil
}

func (c *DedicatedCache) lookup(path streamer.RequestPath) *fileCache {
	cache, ok := c.caches[path.String()]
	if !ok || !cache.sizeKnown {
		return nil
	}
	return cache
}

func (c *DedicatedCache) PrepareRequest(request *streamer.FileRequest) {
	switch command := request.Command().(type) {
	case *streamer.ReadRequestData:
		cache := c.lookup(command.Path)
		if cache == nil {
			c.StageBase.PrepareRequest(request)
			return
		}
		if command.Output == nil {
			command.Output = make([]byte, command.Size)
		}
		if uint64(len(command.Output)) < command.Size || command.Offset+command.Size > cache.fileSize {
			request.Fail(fmt.Errorf("read of %d bytes at %d is outside %s (%d bytes): %w",
				command.Size, command.Offset, command.Path, cache.fileSize, streamer.ErrIO))
			c.Context().MarkRequestAsCompleted(request)
			return
		}
		c.split(request, command.Path, command.Output[:command.Size], command.Offset, func(bytes uint64) {
			command.BytesRead += bytes
		})
	case *streamer.ReadData:
		cache := c.lookup(command.Path)
		if cache == nil || c.withinBlock(command.Offset, command.Size) {
			c.StageBase.PrepareRequest(request)
			return
		}
		c.split(request, command.Path, command.Output[:command.Size], command.Offset, func(bytes uint64) {
			command.BytesRead += bytes
		})
	default:
		c.StageBase.PrepareRequest(request)
	}
}

func (c *DedicatedCache) withinBlock(offset, size uint64) bool {
	if size == 0 {
		return true
	}
	return offset/c.config.BlockSize == (offset+size-1)/c.config.BlockSize
}

// split creates one device read child per block the range touches.
func (c *DedicatedCache) split(parent *streamer.FileRequest, path streamer.RequestPath, output []byte, offset uint64, delivered func(uint64)) {
	ctx := c.Context()
	blockSize := c.config.BlockSize
	end := offset + uint64(len(output))
	for position := offset; position < end; {
		blockEnd := (position/blockSize + 1) * blockSize
		size := min(blockEnd, end) - position
		child := ctx.NewInternalRequest()
		child.CreateReadData(parent, path, output[position-offset:position-offset+size], position, size)
		child.SetCompletionCallback(func(child *streamer.FileRequest) {
			delivered(child.Command().(*streamer.ReadData).BytesRead)
		})
		ctx.PushPreparedRequest(child)
		position += size
	}
}

func (c *DedicatedCache) QueueRequest(request *streamer.FileRequest) {
	switch command := request.Command().(type) {
	case *streamer.ReadData:
		cache := c.lookup(command.Path)
		if cache == nil || !c.withinBlock(command.Offset, command.Size) || command.Offset+command.Size > cache.fileSize {
			c.bypassed.Add(1)
			c.StageBase.QueueRequest(request)
			return
		}
		c.read(cache, request, command)
	case *streamer.CreateDedicatedCacheData:
		c.create(request, command.Path)
	case *streamer.DestroyDedicatedCacheData:
		c.destroy(command.Path)
		request.Succeed()
		c.Context().MarkRequestAsCompleted(request)
	case *streamer.FlushData:
		if cache, ok := c.caches[command.Path.String()]; ok {
			cache.blocks.Purge()
		}
		c.StageBase.QueueRequest(request)
	case *streamer.FlushAllData:
		for _, cache := range c.caches {
			cache.blocks.Purge()
		}
		c.StageBase.QueueRequest(request)
	case *streamer.ReportData:
		if command.Type == streamer.ReportConfig {
			command.Statistics = append(command.Statistics,
				statistics.NewByteSize(c.Name(), "Block size", c.config.BlockSize),
				statistics.NewInteger(c.Name(), "Block count", int64(c.config.BlockCount)),
			)
		}
		c.StageBase.QueueRequest(request)
	default:
		c.StageBase.QueueRequest(request)
	}
}

func (c *DedicatedCache) read(cache *fileCache, request *streamer.FileRequest, command *streamer.ReadData) {
	index := command.Offset / c.config.BlockSize
	if block, ok := cache.blocks.Get(index); ok {
		c.hits.Add(1)
		c.deliver(request, command, block, index)
		return
	}
	c.misses.Add(1)
	if waiting, inFlight := cache.waiting[index]; inFlight {
		cache.waiting[index] = append(waiting, request)
		return
	}
	cache.waiting[index] = []*streamer.FileRequest{request}

	start := index * c.config.BlockSize
	size := min(c.config.BlockSize, cache.fileSize-start)
	fetch := c.Context().NewInternalRequest()
	fetch.CreateReadData(nil, cache.path, make([]byte, size), start, size)
	fetch.SetCompletionCallback(func(fetch *streamer.FileRequest) {
		c.finishFetch(cache, index, fetch)
	})
	c.fetches.Add(1)
	c.StageBase.QueueRequest(fetch)
}

func (c *DedicatedCache) finishFetch(cache *fileCache, index uint64, fetch *streamer.FileRequest) {
	waiting := cache.waiting[index]
	delete(cache.waiting, index)
	read := fetch.Command().(*streamer.ReadData)
	if fetch.Status() != streamer.StatusCompleted {
		for _, request := range waiting {
			request.Fail(fetch.Err())
			c.Context().MarkRequestAsCompleted(request)
		}
		return
	}
	block := read.Output[:read.BytesRead]
	if c.caches[cache.path.String()] == cache {
		if !cache.blocks.Contains(index) {
			c.cachedBlocks.Add(1)
		}
		cache.blocks.Add(index, block)
	}
	for _, request := range waiting {
		c.deliver(request, request.Command().(*streamer.ReadData), block, index)
	}
}

func (c *DedicatedCache) deliver(request *streamer.FileRequest, command *streamer.ReadData, block []byte, index uint64) {
	if request.IsCancelRequested() {
		request.Fail(fmt.Errorf("cached read canceled: %w", streamer.ErrCanceled))
		c.Context().MarkRequestAsCompleted(request)
		return
	}
	start := command.Offset - index*c.config.BlockSize
	if start+command.Size > uint64(len(block)) {
		request.Fail(fmt.Errorf("block %d of %s holds %d bytes, read needs %d: %w",
			index, command.Path, len(block), start+command.Size, streamer.ErrIO))
		c.Context().MarkRequestAsCompleted(request)
		return
	}
	command.BytesRead = uint64(copy(command.Output[:command.Size], block[start:start+command.Size]))
	request.Succeed()
	c.Context().MarkRequestAsCompleted(request)
}

// create adds a reference to the cache for path, learning the file size
// from the next stage the first time.
func (c *DedicatedCache) create(request *streamer.FileRequest, path streamer.RequestPath) {
	key := path.String()
	if cache, ok := c.caches[key]; ok {
		cache.references++
		request.Succeed()
		c.Context().MarkRequestAsCompleted(request)
		return
	}
	blocks, err := lru.NewWithEvict(c.config.BlockCount, func(uint64, []byte) {
		c.cachedBlocks.Add(-1)
	})
	if err != nil {
		request.Fail(fmt.Errorf("creating block cache: %v: %w", err, streamer.ErrInvalidConfig))
		c.Context().MarkRequestAsCompleted(request)
		return
	}
	cache := &fileCache{path: path, references: 1, blocks: blocks, waiting: make(map[uint64][]*streamer.FileRequest)}
	c.caches[key] = cache
	c.numCaches.Add(1)

	lookup := c.Context().NewInternalRequest()
	lookup.CreateInternal(request, &streamer.FileMetaDataRetrievalData{Path: path})
	lookup.SetCompletionCallback(func(lookup *streamer.FileRequest) {
		metadata := lookup.Command().(*streamer.FileMetaDataRetrievalData)
		if lookup.Status() != streamer.StatusCompleted || !metadata.Found {
			c.remove(key, cache)
			if lookup.Status() == streamer.StatusCompleted {
				lookup.Fail(fmt.Errorf("dedicated cache for %s: %w", path, streamer.ErrNotFound))
			}
			return
		}
		cache.fileSize = metadata.FileSize
		cache.sizeKnown = true
		c.Context().Logger().Debug("dedicated cache created", "stage", c.Name(), "path", path.String(), "file_size", metadata.FileSize)
	})
	c.StageBase.QueueRequest(lookup)
}

func (c *DedicatedCache) destroy(path streamer.RequestPath) {
	key := path.String()
	cache, ok := c.caches[key]
	if !ok {
		return
	}
	cache.references--
	if cache.references <= 0 {
		c.remove(key, cache)
		c.destroyed.Add(1)
	}
}

// remove drops cache and its blocks. Fetches still in flight for it
// deliver to their waiting reads without caching the block.
func (c *DedicatedCache) remove(key string, cache *fileCache) {
	if c.caches[key] != cache {
		return
	}
	delete(c.caches, key)
	c.numCaches.Add(-1)
	cache.blocks.Purge()
}

func (c *DedicatedCache) CollectStatistics(out []statistics.Statistic) []statistics.Statistic {
	name := c.Name()
	hits, misses := c.hits.Load(), c.misses.Load()
	hitRate := 0.0
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	out = append(out,
		statistics.NewInteger(name, "Dedicated caches", c.numCaches.Load()),
		statistics.NewInteger(name, "Cached blocks", c.cachedBlocks.Load()),
		statistics.NewPercentage(name, "Hit rate", hitRate).WithGraph(statistics.GraphPercentageBar),
		statistics.NewInteger(name, "Block fetches", int64(c.fetches.Load())),
		statistics.NewInteger(name, "Bypassed reads", int64(c.bypassed.Load())),
		statistics.NewInteger(name, "Destroyed caches", int64(c.destroyed.Load())),
	)
	return c.StageBase.CollectStatistics(out)
}
