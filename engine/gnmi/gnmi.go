// Package gnmi is the adapter-contract stub for gNMI collection (spec §5:
// "gNMI ... collection internals are external collaborators satisfying the
// bridge.Adapter contract — engine/gnmi ships only the contract stub, not a
// collector"). It defines how a gNMI collector would plug into the bridge
// runtime and dial a target, without implementing Subscribe/Get/Set itself.
package gnmi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/99souls/zensight/engine/bridge"
	"github.com/99souls/zensight/engine/zerr"
)

// Target is the connection contract a gNMI collector dials against.
type Target struct {
	Address  string
	Insecure bool
	Username string
	Password string
}

// Dial opens the gRPC channel a gNMI client would issue Subscribe/Get/Set
// calls over. It is exported so an external collector satisfying
// bridge.AdapterFunc can reuse the same dial policy every other adapter in
// this engine uses, without this package implementing the gNMI service
// client itself.
func Dial(ctx context.Context, t Target) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	conn, err := grpc.NewClient(t.Address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, zerr.Transportf(true, "gnmi: dialing %s: %w", t.Address, err)
	}
	return conn, nil
}

// Adapter is the contract stub an external gNMI collector implements
// (spec's bridge.Adapter contract). It returns an unimplemented error
// immediately: gNMI subscription handling, path encoding, and notification
// decoding are out of this module's scope (spec Non-goal — gNMI collection
// internals).
func Adapter(_ Target) bridge.AdapterFunc {
	return func(ctx context.Context, pub bridge.PublisherHandle, health bridge.HealthReporter, liveness bridge.LivenessManager) error {
		return zerr.Otherf("", "gnmi: collection is out of scope, only the adapter contract is implemented")
	}
}
