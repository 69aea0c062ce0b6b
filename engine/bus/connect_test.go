package bus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/99souls/zensight/engine/config"
)

func TestConnectDialsConfiguredEndpoint(t *testing.T) {
	srvConn := startTestServer(t)
	url := srvConn.ConnectedUrl()

	conn, err := Connect(config.FabricConfig{Mode: config.ModeClient, Connect: []string{url}}, "test-bridge")
	require.NoError(t, err)
	defer conn.Close()
	require.True(t, conn.IsConnected())
}

func TestConnectFailsFastOnUnreachableEndpoint(t *testing.T) {
	_, err := Connect(config.FabricConfig{Mode: config.ModeClient, Connect: []string{"nats://127.0.0.1:1"}}, "test-bridge")
	require.Error(t, err)
}
