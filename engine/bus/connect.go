package bus

import (
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/zerr"
)

// Connect opens the NATS connection every bridge/exporter binary shares,
// translating the zenoh-flavored FabricConfig onto the concrete transport
// (spec's `zenoh.mode` client/peer maps to a NATS client; `router` mode —
// running an embedded broker — has no nats.go client-side analog, so it is
// accepted but behaves like `peer`: dial out, don't listen). FabricConfig.Listen
// addresses are a NATS-server concern this process doesn't own and are
// ignored.
func Connect(cfg config.FabricConfig, name string) (*nats.Conn, error) {
	url := nats.DefaultURL
	if len(cfg.Connect) > 0 {
		url = strings.Join(cfg.Connect, ",")
	}
	conn, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, zerr.Transportf(true, "bus: connect %s: %v", url, err)
	}
	return conn, nil
}
