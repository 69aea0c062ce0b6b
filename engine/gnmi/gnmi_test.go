package gnmi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialBuildsAClientConnWithoutBlocking(t *testing.T) {
	conn, err := Dial(context.Background(), Target{Address: "127.0.0.1:9339", Insecure: true})
	require.NoError(t, err)
	require.NotNil(t, conn)
	defer conn.Close()
}

func TestAdapterReturnsOutOfScopeError(t *testing.T) {
	adapter := Adapter(Target{Address: "127.0.0.1:9339"})
	err := adapter(context.Background(), nil, nil, nil)
	require.Error(t, err)
}
