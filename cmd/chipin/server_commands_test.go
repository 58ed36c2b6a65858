package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func healthTestApp() *cli.App {
	return &cli.App{
		Name: "chipin",
		Commands: []*cli.Command{
			{
				Name: "server",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				EnvVars: []string{"SERVER_URL"},
			},
		},
	}
}

func TestHealthCommand_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	os.Setenv("SERVER_URL", server.URL)
	defer os.Unsetenv("SERVER_URL")

	err := healthTestApp().Run([]string{"chipin", "server", "health"})
	require.NoError(t, err)
}

func TestHealthCommand_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	os.Setenv("SERVER_URL", server.URL)
	defer os.Unsetenv("SERVER_URL")

	err := healthTestApp().Run([]string{"chipin", "server", "health"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy")
}

func TestHealthCommand_MissingServerURL(t *testing.T) {
	os.Unsetenv("SERVER_URL")

	err := healthTestApp().Run([]string{"chipin", "server", "health"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server-url is required")
}
