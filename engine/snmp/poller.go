package snmp

import (
	"context"
	"net"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/99souls/zensight/engine/bridge"
	"github.com/99souls/zensight/engine/config"
	"github.com/99souls/zensight/engine/logging"
	"github.com/99souls/zensight/engine/telemetry"
	"github.com/99souls/zensight/engine/zerr"
)

// deviceIP strips an optional ":port" suffix from a configured device
// address, so a correlation record always carries a bare IP (spec §4.9's
// cross-protocol join key), not a host:port pair.
func deviceIP(address string) string {
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}

// Poller drives one device's scheduled GET/WALK cycle. It is built once
// per configured device and registered with a bridge.Runner as an adapter
// (spec §4.4, §4.1).
type Poller struct {
	device config.SNMPDevice
	mapper *oidMapper
	log    logging.Logger
}

// NewPoller builds a Poller for device. bridgeNames is the bridge-wide
// oid_names table. config.SNMPDevice carries no per-device oid_names, so
// the mapper's device-level table is left empty and names resolve from
// bridgeNames, then the dotted OID.
func NewPoller(device config.SNMPDevice, bridgeNames map[string]string, log logging.Logger) *Poller {
	if log == nil {
		log = logging.New(nil)
	}
	return &Poller{
		device: device,
		mapper: newOIDMapper(nil, bridgeNames),
		log:    log,
	}
}

// Adapter returns the bridge.AdapterFunc this poller registers on a Runner.
func (p *Poller) Adapter() bridge.AdapterFunc {
	return p.run
}

func (p *Poller) run(ctx context.Context, pub bridge.PublisherHandle, health bridge.HealthReporter, liveness bridge.LivenessManager) error {
	interval := time.Duration(p.device.PollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	client, err := newClient(p.device)
	if err != nil {
		health.RecordFailure(p.device.Name, err)
		return err
	}
	defer client.Conn.Close()

	if addr := deviceIP(p.device.Address); addr != "" {
		if cerr := pub.Correlate(ctx, addr, p.device.Name); cerr != nil {
			p.log.WarnCtx(ctx, "snmp: correlation publish failed", "device", p.device.Name, "error", cerr)
		}
	}

	// No-drift scheduling: the next tick is always the previous scheduled
	// tick plus one period, so a poll that overruns one interval doesn't
	// push every subsequent tick later — overrun ticks are simply skipped
	// (spec §4.4).
	next := time.Now()
	for {
		next = nextTick(next, interval, time.Now())
		wait := time.Until(next)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		p.pollOnce(ctx, client, pub, health, liveness)
	}
}

// nextTick computes the next scheduled poll time given the previous
// scheduled tick and the poll period: it always advances by whole periods
// from prev, so a poll that overran one or more intervals skips the missed
// ticks instead of bunching them up (spec §4.4's no-drift schedule).
func nextTick(prev time.Time, interval time.Duration, now time.Time) time.Time {
	next := prev.Add(interval)
	for !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

func (p *Poller) pollOnce(ctx context.Context, client *gosnmp.GoSNMP, pub bridge.PublisherHandle, health bridge.HealthReporter, liveness bridge.LivenessManager) {
	start := time.Now()
	points, err := p.collect(client)
	latencyMs := time.Since(start).Milliseconds()

	if err != nil {
		health.RecordFailure(p.device.Name, err)
		return
	}
	health.RecordSuccess(p.device.Name, latencyMs)

	for _, pt := range points {
		if perr := pub.Publish(ctx, pt); perr != nil {
			p.log.WarnCtx(ctx, "snmp: publish failed", "device", p.device.Name, "metric", pt.Metric, "error", perr)
		}
	}
}

func (p *Poller) collect(client *gosnmp.GoSNMP) ([]*telemetry.TelemetryPoint, error) {
	var points []*telemetry.TelemetryPoint
	now := telemetry.NowMs()

	if len(p.device.OIDs) > 0 {
		result, err := client.Get(p.device.OIDs)
		if err != nil {
			return nil, zerr.Transportf(true, "snmp GET %s: %v", p.device.Name, err)
		}
		for _, v := range result.Variables {
			if v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.NoSuchInstance || v.Type == gosnmp.EndOfMibView {
				continue
			}
			name, idx, mapped := p.mapper.metricName(v.Name, "")
			points = append(points, p.point(now, name, idx, v.Name, mapped, coerceValue(v)))
		}
	}

	for _, walkBase := range p.device.Walks {
		base := walkBase
		walkFn := func(v gosnmp.SnmpPDU) error {
			if v.Type == gosnmp.NoSuchObject || v.Type == gosnmp.NoSuchInstance || v.Type == gosnmp.EndOfMibView {
				return nil
			}
			name, idx, mapped := p.mapper.metricName(v.Name, base)
			points = append(points, p.point(now, name, idx, v.Name, mapped, coerceValue(v)))
			return nil
		}
		var err error
		if client.Version == gosnmp.Version1 {
			err = client.Walk(base, walkFn)
		} else {
			err = client.BulkWalk(base, walkFn)
		}
		if err != nil {
			return nil, zerr.Transportf(true, "snmp WALK %s %s: %v", p.device.Name, base, err)
		}
	}

	return points, nil
}

func (p *Poller) point(timestampMs int64, metric, indexOID, rawOID string, mapped bool, v telemetry.Value) *telemetry.TelemetryPoint {
	pt := &telemetry.TelemetryPoint{
		Timestamp: timestampMs,
		Source:    p.device.Name,
		Protocol:  telemetry.ProtocolSNMP,
		Metric:    metric,
		Value:     v,
	}
	if indexOID != "" {
		pt.Labels = map[string]string{"index_oid": indexOID}
	}
	if !mapped {
		if pt.Labels == nil {
			pt.Labels = map[string]string{}
		}
		pt.Labels["oid"] = trimDot(rawOID)
	}
	return pt
}
