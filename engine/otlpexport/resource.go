package otlpexport

import (
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/sdk/resource"
)

// metricdataResource builds a per-bucket *resource.Resource: service.name
// and service.version are fixed for the process, device.id and
// telemetry.protocol vary per bucket, and operator-configured overrides are
// layered on top of both (spec §4.8: "Resource attributes ... plus
// operator-configured overrides").
type metricdataResource struct {
	serviceName    string
	serviceVersion string
	overrides      map[string]string
}

func newMetricdataResource(serviceName, serviceVersion string, overrides map[string]string) *metricdataResource {
	return &metricdataResource{serviceName: serviceName, serviceVersion: serviceVersion, overrides: overrides}
}

// bucketResourceAttrs derives the (device.id, telemetry.protocol) pair a
// bucket is keyed on, from the point that created it.
func bucketResourceAttrs(source, protocol string) map[string]string {
	return map[string]string{
		"device.id":          source,
		"telemetry.protocol": protocol,
	}
}

func (r *metricdataResource) forAttributes(bucketAttrs map[string]string) *resource.Resource {
	kvs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(r.serviceName),
	}
	if r.serviceVersion != "" {
		kvs = append(kvs, semconv.ServiceVersionKey.String(r.serviceVersion))
	}
	for k, v := range bucketAttrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	for k, v := range r.overrides {
		kvs = append(kvs, attribute.String(k, v))
	}
	return resource.NewSchemaless(kvs...)
}

func attributeSet(pairs []attrPair) attribute.Set {
	kvs := make([]attribute.KeyValue, len(pairs))
	for i, p := range pairs {
		kvs[i] = attribute.String(p.key, p.value)
	}
	return attribute.NewSet(kvs...)
}
