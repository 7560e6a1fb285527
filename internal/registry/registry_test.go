package registry

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portraitstudio/internal/domain"
	"portraitstudio/internal/sqlinline"
)

const testSession = "0b8f3c4e-2a61-4d0e-9f0a-7a2d9b1c5e33"

func backends(t *testing.T) map[string]func(t *testing.T) KV {
	return map[string]func(t *testing.T) KV{
		"memory": func(t *testing.T) KV { return NewMemoryKV() },
		"redis": func(t *testing.T) KV {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisKV(client, "test:")
		},
		"postgres": func(t *testing.T) KV { return NewPostgresKV(newFakeSQL()) },
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, kv KV)) {
	names := make([]string, 0, 3)
	factories := backends(t)
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		factory := factories[name]
		t.Run(name, func(t *testing.T) { fn(t, factory(t)) })
	}
}

func TestRecordIsInsertOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		reg := NewMetadata(kv)
		id := domain.ArtifactID(testSession, domain.StyleWatercolor)

		inserted, err := reg.Record(ctx, domain.ArtifactMetadata{ArtifactID: id, Style: domain.StyleWatercolor, URL: "https://a/1", SessionID: testSession})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = reg.Record(ctx, domain.ArtifactMetadata{ArtifactID: id, Style: domain.StyleWatercolor, URL: "https://a/2", SessionID: testSession})
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := reg.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "https://a/1", got.URL)
		assert.False(t, got.CreatedAt.IsZero())

		list, err := reg.ListSession(ctx, testSession)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})
}

func TestListSessionKeepsRecordOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		reg := NewMetadata(kv)
		for _, style := range domain.DefaultStyles {
			_, err := reg.Record(ctx, domain.ArtifactMetadata{ArtifactID: domain.ArtifactID(testSession, style), Style: style, SessionID: testSession})
			require.NoError(t, err)
		}
		list, err := reg.ListSession(ctx, testSession)
		require.NoError(t, err)
		require.Len(t, list, len(domain.DefaultStyles))
		for i, style := range domain.DefaultStyles {
			assert.Equal(t, style, list[i].Style)
		}

		empty, err := reg.ListSession(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestGetUnknownArtifact(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kv KV) {
		reg := NewMetadata(kv)
		_, err := reg.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, domain.ErrArtifactNotFound)

		ok, err := reg.Exists(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCheckoutPaidIsMonotonic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kv KV) {
		ctx := context.Background()
		checkouts := NewCheckouts(kv)
		created, err := checkouts.Create(ctx, domain.CheckoutSession{ID: "cs_1", ArtifactIDs: []string{"a", "b"}})
		require.NoError(t, err)
		require.True(t, created)

		again, err := checkouts.Create(ctx, domain.CheckoutSession{ID: "cs_1", Paid: true})
		require.NoError(t, err)
		assert.False(t, again)

		s, err := checkouts.Get(ctx, "cs_1")
		require.NoError(t, err)
		assert.Equal(t, domain.CheckoutUnpaid, s.Status())

		first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		changed, err := checkouts.MarkPaid(ctx, "cs_1", first)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = checkouts.MarkPaid(ctx, "cs_1", first.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, changed)

		s, err = checkouts.Get(ctx, "cs_1")
		require.NoError(t, err)
		assert.Equal(t, domain.CheckoutPaid, s.Status())
		require.NotNil(t, s.PaidAt)
		assert.True(t, first.Equal(*s.PaidAt))
		assert.Equal(t, []string{"a", "b"}, s.ArtifactIDs)
	})
}

func TestCheckoutUnknownSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, kv KV) {
		checkouts := NewCheckouts(kv)
		_, err := checkouts.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		_, err = checkouts.MarkPaid(context.Background(), "missing", time.Now())
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestMemoryMarkPaidConcurrent(t *testing.T) {
	ctx := context.Background()
	checkouts := NewCheckouts(NewMemoryKV())
	_, err := checkouts.Create(ctx, domain.CheckoutSession{ID: "cs_race"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := checkouts.MarkPaid(ctx, "cs_race", time.Now())
			if err == nil && changed {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

// fakeSQL emulates the registry tables for the queries in sqlinline.
type fakeSQL struct {
	mu      sync.Mutex
	values  map[string][]byte
	indexes map[string][]string
}

func newFakeSQL() *fakeSQL {
	return &fakeSQL{values: map[string][]byte{}, indexes: map[string][]string{}}
}

func (f *fakeSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch query {
	case sqlinline.QCreateRegistryKV, sqlinline.QCreateRegistryIndex:
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	case sqlinline.QInsertRegistryValue:
		key := args[0].(string)
		if _, ok := f.values[key]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.values[key] = bytes.Clone(args[1].([]byte))
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case sqlinline.QSwapRegistryValue:
		key := args[0].(string)
		cur, ok := f.values[key]
		if !ok || !bytes.Equal(cur, args[1].([]byte)) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		f.values[key] = bytes.Clone(args[2].([]byte))
		return pgconn.NewCommandTag("UPDATE 1"), nil
	case sqlinline.QInsertRegistryIndex:
		index, member := args[0].(string), args[1].(string)
		for _, m := range f.indexes[index] {
			if m == member {
				return pgconn.NewCommandTag("INSERT 0 0"), nil
			}
		}
		f.indexes[index] = append(f.indexes[index], member)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected exec: %s", query)
}

func (f *fakeSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	if query != sqlinline.QSelectRegistryValue {
		return fakeRow{err: fmt.Errorf("unexpected query row: %s", query)}
	}
	v, ok := f.values[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: bytes.Clone(v)}
}

func (f *fakeSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if query != sqlinline.QListRegistryIndex {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	return &fakeRows{members: append([]string(nil), f.indexes[args[0].(string)]...), pos: -1}, nil
}

type fakeRow struct {
	value []byte
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.value
	return nil
}

type fakeRows struct {
	members []string
	pos     int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.members)
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.members[r.pos]
	return nil
}

func TestPostgresEnsureSchema(t *testing.T) {
	require.NoError(t, NewPostgresKV(newFakeSQL()).EnsureSchema(context.Background()))
}
