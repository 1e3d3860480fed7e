package integration

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func runContainer(t *testing.T, image, port string, opts ...testcontainers.ContainerCustomizer) string {
	t.Helper()
	if testing.Short() {
		t.Skip(image + " container skipped in short mode")
	}
	ctx := t.Context()
	c, err := testcontainers.Run(ctx, image, append(opts, testcontainers.WithExposedPorts(port))...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})
	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	t.Logf("%s endpoint: %s", image, endpoint)
	return endpoint
}

func natsURL(t *testing.T) string {
	return "nats://" + runContainer(t, "nats:latest", "4222/tcp",
		testcontainers.WithCmd("-js"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("4222/tcp"),
			wait.ForLog("Server is ready"),
		),
	)
}

func postgresDSN(t *testing.T) string {
	endpoint := runContainer(t, "postgres:16-alpine", "5432/tcp",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "pages",
			"POSTGRES_PASSWORD": "pages",
			"POSTGRES_DB":       "pages",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	return fmt.Sprintf("postgres://pages:pages@%s/pages?sslmode=disable", endpoint)
}
