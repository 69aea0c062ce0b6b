package snmp

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/99souls/zensight/engine/bridge"
	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
)

// TrapReceiver runs the single shared trap listener (spec §4.4: "one UDP
// bind for all incoming traps, not one per device"). Each varbind of a
// received trap becomes its own TelemetryPoint, keyed under the sending
// device's source name (identified by peer IP against the configured
// devices), the trap's OID with dots replaced by dashes, and the varbind's
// resolved name: zensight/snmp/<source>/trap/<trap-oid>/<name>. No single
// per-trap point is published under zensight/snmp/<source>/trap/<trap-oid>.
type TrapReceiver struct {
	bind        string
	sourceByIP  map[string]string
	bridgeNames map[string]string
	log         logging.Logger
}

// NewTrapReceiver builds a receiver bound to cfg.Bind, resolving trap
// senders back to configured device names by IP.
func NewTrapReceiver(cfg config.SNMPTrapListener, devices []config.SNMPDevice, bridgeNames map[string]string, log logging.Logger) *TrapReceiver {
	if log == nil {
		log = logging.New(nil)
	}
	byIP := make(map[string]string, len(devices))
	for _, d := range devices {
		host := d.Address
		if h, _, err := net.SplitHostPort(d.Address); err == nil {
			host = h
		}
		byIP[host] = d.Name
	}
	return &TrapReceiver{bind: cfg.Bind, sourceByIP: byIP, bridgeNames: bridgeNames, log: log}
}

// Adapter returns the bridge.AdapterFunc for this receiver.
func (r *TrapReceiver) Adapter() bridge.AdapterFunc {
	return r.run
}

func (r *TrapReceiver) run(ctx context.Context, pub bridge.PublisherHandle, health bridge.HealthReporter, liveness bridge.LivenessManager) error {
	listener := gosnmp.NewTrapListener()
	mapper := newOIDMapper(nil, r.bridgeNames)
	listener.OnNewTrap = func(packet *gosnmp.SnmpPacket, addr *net.UDPAddr) {
		source := r.resolveSource(addr)
		trapOID := trapOIDOf(packet)
		for _, v := range packet.Variables {
			name, idx, mapped := mapper.metricName(v.Name, "")
			pt := &telemetry.TelemetryPoint{
				Timestamp: telemetry.NowMs(),
				Source:    source,
				Protocol:  telemetry.ProtocolSNMP,
				Metric:    fmt.Sprintf("trap/%s/%s", sanitizeOID(trapOID), name),
				Value:     coerceValue(v),
			}
			if idx != "" {
				pt.Labels = map[string]string{"index_oid": idx}
			}
			if !mapped {
				if pt.Labels == nil {
					pt.Labels = map[string]string{}
				}
				pt.Labels["oid"] = trimDot(v.Name)
			}
			if err := pub.Publish(ctx, pt); err != nil {
				r.log.WarnCtx(ctx, "snmp: trap publish failed", "source", source, "error", err)
			}
		}
		liveness.Mark(source, telemetry.DeviceOnline)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listener.Listen(r.bind)
	}()

	select {
	case <-ctx.Done():
		listener.Close()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (r *TrapReceiver) resolveSource(addr *net.UDPAddr) string {
	if addr == nil {
		return "unknown"
	}
	if name, ok := r.sourceByIP[addr.IP.String()]; ok {
		return name
	}
	return addr.IP.String()
}

func trapOIDOf(packet *gosnmp.SnmpPacket) string {
	for _, v := range packet.Variables {
		if v.Name == ".1.3.6.1.6.3.1.1.4.1.0" { // snmpTrapOID.0
			return valueToString(v.Value)
		}
	}
	return "unknown"
}

func sanitizeOID(oid string) string {
	s := strings.TrimPrefix(oid, ".")
	return strings.ReplaceAll(s, ".", "-")
}
