//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/knot/internal/config"
	"github.com/your-org/knot/internal/descriptor"
)

const testDim = 8

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	store, err := NewPostgresStore(config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		Name:     "testdb",
		User:     "test",
		Password: "test",
		MaxConns: 5,
	})
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("create store: %v", err)
	}

	if err := store.Migrate(ctx, testDim); err != nil {
		store.Close()
		container.Terminate(ctx)
		t.Fatalf("migrate: %v", err)
	}

	return store, func() {
		store.Close()
		container.Terminate(ctx)
	}
}

func testVec(seed float32) []float32 {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = seed + float32(i)
	}
	return descriptor.Normalize(v)
}

func TestEventResolution(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	event, err := store.CreateEvent(ctx, "summer24", "Summer Party")
	require.NoError(t, err)
	assert.Equal(t, "SUMMER24", event.Code)

	t.Run("ByUUID", func(t *testing.T) {
		got, err := store.ResolveEvent(ctx, event.ID.String())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, event.ID, got.ID)
	})

	t.Run("ByCodeCaseInsensitive", func(t *testing.T) {
		got, err := store.ResolveEvent(ctx, "Summer24")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, event.ID, got.ID)
	})

	t.Run("Unknown", func(t *testing.T) {
		got, err := store.ResolveEvent(ctx, "NOPE")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestSingleFaceUpsert(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	event, err := store.CreateEvent(ctx, "EV1", "")
	require.NoError(t, err)

	const link = "/uploads/portrait.jpg"
	_, err = store.CreatePhoto(ctx, link, event.ID, nil)
	require.NoError(t, err)

	has, err := store.HasDescriptor(ctx, link)
	require.NoError(t, err)
	assert.False(t, has)

	// The descriptor lands on the existing placeholder row, not a new one.
	require.NoError(t, store.UpsertSingleFaceDescriptor(ctx, link, testVec(1), event.ID))

	count, err := store.CountRowsForLink(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	has, err = store.HasDescriptor(ctx, link)
	require.NoError(t, err)
	assert.True(t, has)

	// Without a placeholder the upsert inserts a fresh row.
	const orphan = "/uploads/orphan.jpg"
	require.NoError(t, store.UpsertSingleFaceDescriptor(ctx, orphan, testVec(2), event.ID))
	count, err = store.CountRowsForLink(ctx, orphan)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMultiFaceInsert(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	event, err := store.CreateEvent(ctx, "EV2", "")
	require.NoError(t, err)

	const link = "/uploads/group.jpg"
	_, err = store.CreatePhoto(ctx, link, event.ID, nil)
	require.NoError(t, err)

	vecs := [][]float32{testVec(1), testVec(2), testVec(3)}
	require.NoError(t, store.InsertFaceDescriptors(ctx, link, vecs, event.ID))

	// One row per face plus the stamped placeholder.
	count, err := store.CountRowsForLink(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// The placeholder is stamped processed, so nothing is pending.
	pending, err := store.ListPendingLinks(ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := store.ListEventDescriptors(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
}

func TestDescriptorRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	event, err := store.CreateEvent(ctx, "EV3", "")
	require.NoError(t, err)

	vec := testVec(5)
	require.NoError(t, store.UpsertSingleFaceDescriptor(ctx, "/uploads/rt.jpg", vec, event.ID))

	stored, err := store.ListEventDescriptors(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// Stored and retrieved vectors are the same point in descriptor space.
	assert.InDelta(t, 0, descriptor.Distance(vec, stored[0].Descriptor), 1e-5)
}

func TestZeroFacePhotoLeavesPendingSet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	event, err := store.CreateEvent(ctx, "EV4", "")
	require.NoError(t, err)

	const link = "/uploads/landscape.jpg"
	_, err = store.CreatePhoto(ctx, link, event.ID, nil)
	require.NoError(t, err)

	pending, err := store.ListPendingLinks(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{link}, pending)

	require.NoError(t, store.MarkPhotoProcessed(ctx, link))

	pending, err = store.ListPendingLinks(ctx, event.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// No faces were found, so there is still no descriptor.
	has, err := store.HasDescriptor(ctx, link)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDescriptorsScopedToEvent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	eventA, err := store.CreateEvent(ctx, "EVA", "")
	require.NoError(t, err)
	eventB, err := store.CreateEvent(ctx, "EVB", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		link := fmt.Sprintf("/uploads/a%d.jpg", i)
		require.NoError(t, store.UpsertSingleFaceDescriptor(ctx, link, testVec(float32(i)), eventA.ID))
	}
	require.NoError(t, store.UpsertSingleFaceDescriptor(ctx, "/uploads/b.jpg", testVec(9), eventB.ID))

	storedA, err := store.ListEventDescriptors(ctx, eventA.ID)
	require.NoError(t, err)
	assert.Len(t, storedA, 3)

	storedB, err := store.ListEventDescriptors(ctx, eventB.ID)
	require.NoError(t, err)
	assert.Len(t, storedB, 1)
}
