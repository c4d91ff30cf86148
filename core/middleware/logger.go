package middleware

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/wirehttp/core/observability"
)

// LoggerMiddleware logs one line per exchange and optionally feeds a Monitor
type LoggerMiddleware struct {
	log     zerolog.Logger
	monitor *observability.Monitor
	now     func() time.Time
}

// Logger records method, raw target, status and elapsed time.
// monitor may be nil.
func Logger(log zerolog.Logger, monitor *observability.Monitor) *LoggerMiddleware {
	return &LoggerMiddleware{
		log:     log,
		monitor: monitor,
		now:     time.Now,
	}
}

func (l *LoggerMiddleware) Before(x *Exchange) {
	x.SetLocal(l.now())
}

func (l *LoggerMiddleware) After(x *Exchange) {
	start, _ := x.Local().(time.Time)
	elapsed := l.now().Sub(start)
	req, resp := x.Request, x.Response

	l.log.Info().
		Str("method", req.Method).
		Str("target", req.RawTarget).
		Int("status", resp.Status).
		Dur("elapsed", elapsed).
		Msg("request")

	if l.monitor != nil {
		route := req.Route
		if route == "" {
			route = "unmatched"
		}
		l.monitor.RecordRequest(req.Method+" "+route, elapsed, resp.Status)
	}
}
