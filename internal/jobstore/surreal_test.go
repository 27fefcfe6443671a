//go:build integration

package jobstore_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/onboard-go/internal/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testKV *jobstore.SurrealKV

// TestMain starts a SurrealDB container shared by all integration tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testKV, err = jobstore.NewSurrealKV(ctx, jobstore.SurrealConfig{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, discardLogger())
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	code := m.Run()

	_ = testKV.Close(ctx)
	_ = container.Terminate(ctx)

	os.Exit(code)
}

func TestSurrealKVRoundTrip(t *testing.T) {
	ctx := context.Background()

	_, err := testKV.Get(ctx, "missing")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)

	require.NoError(t, testKV.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))
	v, err := testKV.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, testKV.SetMany(ctx, map[string]string{"a": "3"}))
	v, err = testKV.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	require.NoError(t, testKV.Delete(ctx, "a", "b"))
	_, err = testKV.Get(ctx, "b")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestSurrealKVBacksStore(t *testing.T) {
	ctx := context.Background()
	s := jobstore.New(testKV, jobstore.Options{Logger: discardLogger()})

	require.NoError(t, s.Save(ctx, "abc", "https://example.com"))
	rec, ok := s.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", rec.JobID)
	assert.Equal(t, "https://example.com", rec.SourceURL)

	require.NoError(t, s.SaveResult(ctx, []byte(`{"company_name":"Linear"}`)))
	require.NoError(t, s.Clear(ctx))

	_, ok = s.Load(ctx)
	assert.False(t, ok)
	entry, err := s.LoadResult(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"company_name":"Linear"}`, string(entry.Data))
}
