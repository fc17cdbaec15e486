package cache

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, total, entry int64) *Cache {
	t.Helper()
	c, err := New(Config{MaxTotalBytes: total, MaxEntryBytes: entry}, nil)
	require.NoError(t, err)
	return c
}

func Test_Cache_configValidation(t *testing.T) {
	r := require.New(t)

	_, err := New(Config{MaxTotalBytes: 0, MaxEntryBytes: 10}, nil)
	r.Error(err)
	_, err = New(Config{MaxTotalBytes: 10, MaxEntryBytes: 0}, nil)
	r.Error(err)
	_, err = New(Config{MaxTotalBytes: 10, MaxEntryBytes: 20}, nil)
	r.Error(err)
	_, err = New(Config{MaxTotalBytes: 20, MaxEntryBytes: 20}, nil)
	r.NoError(err)
}

func Test_Cache_getReturnsStoredBytes(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t, 100, 40)

	c.Put("a", []byte("AAA"))
	got, ok := c.Get("a")
	r.True(ok)
	r.Equal([]byte("AAA"), got)
	r.Equal(int64(3), c.Bytes())
	r.Equal([]string{"a"}, c.Keys())

	// The latest Put wins.
	c.Put("a", []byte("BBBB"))
	got, ok = c.Get("a")
	r.True(ok)
	r.Equal([]byte("BBBB"), got)
	r.Equal(int64(4), c.Bytes())
}

func Test_Cache_copyOut(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t, 100, 40)

	c.Put("k", []byte("hello"))

	got1, ok := c.Get("k")
	r.True(ok)

	// Mutating the returned buffer must not leak into the store.
	for i := range got1 {
		got1[i] = 'X'
	}
	got2, ok := c.Get("k")
	r.True(ok)
	r.Equal([]byte("hello"), got2)
}

func Test_Cache_copyIn(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t, 100, 40)

	buf := []byte("hello")
	c.Put("k", buf)

	// Mutating the caller's buffer after Put must not reach the store.
	for i := range buf {
		buf[i] = 'X'
	}
	got, ok := c.Get("k")
	r.True(ok)
	r.Equal([]byte("hello"), got)
}

func Test_Cache_oversizeDrop(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t, 100, 40)

	c.Put("big", []byte(strings.Repeat("x", 41)))
	r.Equal(0, c.Len())
	_, ok := c.Get("big")
	r.False(ok)
}

func Test_Cache_mruAfterHit(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t, 100, 40)

	c.Put("a", []byte(strings.Repeat("a", 40)))
	c.Put("b", []byte(strings.Repeat("b", 40)))

	_, ok := c.Get("a")
	r.True(ok)
	r.Equal([]string{"a", "b"}, c.Keys())

	// The promoted entry survives the next eviction.
	c.Put("c", []byte(strings.Repeat("c", 40)))
	_, ok = c.Get("b")
	r.False(ok)
	_, ok = c.Get("a")
	r.True(ok)
	_, ok = c.Get("c")
	r.True(ok)
}

func Test_Cache_closed(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t, 100, 40)

	c.Put("a", []byte("AAA"))
	r.NoError(c.Close())
	r.NoError(c.Close())

	_, ok := c.Get("a")
	r.False(ok)
	c.Put("b", []byte("BBB"))
	r.Equal(0, c.Len())
	r.Equal(int64(0), c.Bytes())
}

func Test_Cache_stats(t *testing.T) {
	r := require.New(t)
	c := newTestCache(t, 100, 40)

	c.Put("a", []byte(strings.Repeat("a", 40)))
	c.Put("b", []byte(strings.Repeat("b", 40)))
	c.Put("c", []byte(strings.Repeat("c", 40))) // evicts a
	c.Get("b")                                  // hit
	c.Get("a")                                  // miss

	st := c.Stats()
	r.Equal(2, st.Entries)
	r.Equal(int64(80), st.Bytes)
	r.Equal(int64(3), st.Inserts)
	r.Equal(int64(1), st.Evictions)
	r.Equal(int64(1), st.Hits)
	r.Equal(int64(1), st.Misses)
}

// Invariant checks used by the race tests after the dust settles.
func checkInvariants(t *testing.T, c *Cache, maxTotal, maxEntry int64) {
	t.Helper()
	r := require.New(t)

	var sum int64
	for _, k := range c.Keys() {
		p, ok := c.Get(k)
		r.True(ok, "indexed key %q must be in the sequence", k)
		r.LessOrEqual(int64(len(p)), maxEntry)
		sum += int64(len(p))
	}
	r.Equal(sum, c.Bytes())
	r.LessOrEqual(c.Bytes(), maxTotal)
}

func Test_Cache_race(t *testing.T) {
	c := newTestCache(t, 1024, 128)

	wg := sync.WaitGroup{}
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 256; i++ {
				key := fmt.Sprintf("key_%d", i%48)
				c.Put(key, []byte(strings.Repeat("x", 1+i%96)))
				if p, ok := c.Get(key); ok && len(p) == 0 {
					t.Error("empty payload from hit")
					return
				}
				c.Len()
				c.Bytes()
			}
		}(g)
	}
	wg.Wait()

	checkInvariants(t, c, 1024, 128)
}

// A reader that saw the key under the shared lock races writers that
// replace or evict the entry before the reader re-acquires exclusively.
// The reader must observe a full old payload, a full new payload, or a
// miss - never a torn mix.
func Test_Cache_upgradeRace(t *testing.T) {
	c := newTestCache(t, 256, 64)

	stop := make(chan struct{})
	var writer, readers sync.WaitGroup

	// The writer flips the payload of one key between two
	// self-describing values and keeps evicting it via budget pressure.
	writer.Add(1)
	go func() {
		defer writer.Done()
		old := []byte(strings.Repeat("o", 48))
		new_ := []byte(strings.Repeat("n", 64))
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			c.Put("hot", old)
			c.Put("hot", new_)
			// Push the hot key out through the back: four new 64-byte
			// fillers fill the whole 256-byte budget.
			for j := 0; j < 4; j++ {
				c.Put(fmt.Sprintf("filler_%d", (4*i+j)%8), []byte(strings.Repeat("f", 64)))
			}
		}
	}()

	for g := 0; g < 8; g++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 4096; i++ {
				p, ok := c.Get("hot")
				if !ok {
					continue
				}
				if len(p) == 0 {
					t.Error("hit returned empty payload")
					return
				}
				first := p[0]
				for _, b := range p {
					if b != first {
						t.Errorf("torn payload: %q", p)
						return
					}
				}
				switch first {
				case 'o':
					if len(p) != 48 {
						t.Errorf("truncated old payload: %d bytes", len(p))
						return
					}
				case 'n':
					if len(p) != 64 {
						t.Errorf("truncated new payload: %d bytes", len(p))
						return
					}
				default:
					t.Errorf("foreign payload byte %q", first)
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	writer.Wait()

	checkInvariants(t, c, 256, 64)
}
