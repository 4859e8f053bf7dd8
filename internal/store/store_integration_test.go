package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mohammad-safakhou/poodle/internal/registry"
	srv "github.com/mohammad-safakhou/poodle/internal/server"
	"github.com/mohammad-safakhou/poodle/internal/store"
	"github.com/mohammad-safakhou/poodle/models"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresRegistryWithMigrations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("poodle"),
		tcPostgres.WithUsername("poodle"),
		tcPostgres.WithPassword("poodle"),
		tcPostgres.WithInitScripts(),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() {
		_ = pgC.Terminate(ctx)
	}()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://poodle:poodle@%s:%s/poodle?sslmode=disable", host, port.Port())

	// The port is open a moment before the server accepts connections.
	var migrateErr error
	for i := 0; i < 10; i++ {
		if migrateErr = srv.Migrate("file://../../migrations", dsn, "up", 0); migrateErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if migrateErr != nil {
		t.Fatalf("migrate: %v", migrateErr)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	var reg registry.Registry = st
	for _, id := range []int64{42, 7} {
		if err := reg.Add(ctx, models.WatchedResource{ChannelID: "chan-1", ID: id, Name: "Course", URL: "https://portal/course/view.php?id=1", Content: "<div/>", WatchedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("Add(%d): %v", id, err)
		}
	}
	if err := reg.Add(ctx, models.WatchedResource{ChannelID: "chan-1", ID: 42}); !errors.Is(err, models.ErrAlreadyWatching) {
		t.Fatalf("expected ErrAlreadyWatching, got %v", err)
	}

	list, err := reg.List(ctx, "chan-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != 42 || list[1].ID != 7 || !list[0].CheckedAt.IsZero() {
		t.Fatalf("unexpected list: %+v", list)
	}

	checked := time.Now().UTC().Truncate(time.Second)
	if err := reg.UpdateContent(ctx, "chan-1", 7, registry.ContentUpdate{Content: "<div>new</div>", ContentHash: "h", Changed: true, CheckedAt: checked}); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	list, _ = reg.List(ctx, "chan-1")
	if list[1].Content != "<div>new</div>" || !list[1].UpdatedAt.Equal(checked) {
		t.Fatalf("content not updated: %+v", list[1])
	}

	if err := reg.Remove(ctx, "chan-1", 42); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := reg.Remove(ctx, "chan-1", 42); !errors.Is(err, models.ErrNotWatching) {
		t.Fatalf("expected ErrNotWatching, got %v", err)
	}
	channels, err := reg.Channels(ctx)
	if err != nil || len(channels) != 1 || channels[0] != "chan-1" {
		t.Fatalf("Channels = %v, %v", channels, err)
	}

	if err := srv.Migrate("file://../../migrations", dsn, "down", 0); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
}
