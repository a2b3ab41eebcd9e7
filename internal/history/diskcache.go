package history

import (
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
)

// DiskCache persists history responses to msgpack-encoded files under a
// root directory, surviving process restarts the way the in-memory
// cacheMu map in Gateway cannot. It is consulted only as a slower tier
// behind the in-memory cache; entries older than TTL are treated as
// misses rather than deleted eagerly.
type DiskCache struct {
	Root string
	TTL  time.Duration
}

type diskCacheRecord struct {
	StoredAt time.Time             `msgpack:"stored_at"`
	Slices   []marketdata.Slice    `msgpack:"slices"`
}

// NewDiskCache builds a DiskCache rooted at dir, creating it if absent.
func NewDiskCache(dir string, ttl time.Duration) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{Root: dir, TTL: ttl}, nil
}

// Get returns the cached slices for key, or ok=false on miss/expiry.
func (c *DiskCache) Get(key string) (slices []marketdata.Slice, ok bool) {
	data, err := os.ReadFile(c.path(key)) // #nosec G304 -- key is a derived cache key, not user input
	if err != nil {
		return nil, false
	}
	var rec diskCacheRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	if time.Since(rec.StoredAt) >= c.TTL {
		return nil, false
	}
	return rec.Slices, true
}

// Put writes slices to the on-disk cache for key.
func (c *DiskCache) Put(key string, slices []marketdata.Slice) error {
	rec := diskCacheRecord{StoredAt: time.Now(), Slices: slices}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path(key), data, 0o644) // #nosec G306 -- cache files, not secrets
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.Root, sanitizeKey(key)+".mpk")
}

func sanitizeKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		b := key[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '-' || b == '_':
			out[i] = b
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
