package otlpexport

// httpStatusCoder is satisfied by HTTP client errors that expose the status
// code that caused them; most OTLP/HTTP exporter errors do.
type httpStatusCoder interface {
	StatusCode() int
}

func httpStatusFromError(err error) (int, bool) {
	if coder, ok := err.(httpStatusCoder); ok {
		return coder.StatusCode(), true
	}
	return 0, false
}
