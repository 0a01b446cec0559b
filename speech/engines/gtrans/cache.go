package gtrans

import (
	"container/list"
	"sync"
)

// audioCache is a byte-capped LRU of synthesized MP3 payloads keyed by
// voice and text. Restarting playback after a pause re-synthesizes the
// remaining text, and without the cache every restart would hit the
// network again for audio that was just fetched.
type audioCache struct {
	capacity int64
	size     int64

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List
}

type audioCacheEntry struct {
	key   string
	audio []byte
}

func newAudioCache(capacity int64) *audioCache {
	return &audioCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

func audioCacheKey(voice, text string) string {
	return voice + "\x00" + text
}

func (c *audioCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.eviction.MoveToFront(elem)
	return elem.Value.(*audioCacheEntry).audio, true
}

func (c *audioCache) put(key string, audio []byte) {
	if int64(len(audio)) > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*audioCacheEntry)
		c.size += int64(len(audio)) - int64(len(entry.audio))
		entry.audio = audio
		c.eviction.MoveToFront(elem)
		return
	}

	for c.size+int64(len(audio)) > c.capacity && c.eviction.Len() > 0 {
		oldest := c.eviction.Back()
		entry := oldest.Value.(*audioCacheEntry)
		c.eviction.Remove(oldest)
		delete(c.items, entry.key)
		c.size -= int64(len(entry.audio))
	}

	c.items[key] = c.eviction.PushFront(&audioCacheEntry{key: key, audio: audio})
	c.size += int64(len(audio))
}
