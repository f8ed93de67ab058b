package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-reuseport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.uber.org/zap"

	"example.com/serverdate/base/metrics"
)

const (
	httpServerNumListener = 4

	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

var srvMetrics atomic.Pointer[httpServerMetrics]

type httpServerMetrics struct {
	reqsServed       prometheus.Counter
	reqsServedMillis prometheus.Counter
	reqsRejected     prometheus.Counter
}

func init() {
	srvMetrics.Store(newHTTPServerMetrics())
}

func newHTTPServerMetrics() *httpServerMetrics {
	return &httpServerMetrics{
		reqsServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerReqsServedN,
			Help: metrics.ServerReqsServedH,
		}),
		reqsServedMillis: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerReqsServedMillisN,
			Help: metrics.ServerReqsServedMillisH,
		}),
		reqsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: metrics.ServerReqsRejectedN,
			Help: metrics.ServerReqsRejectedH,
		}),
	}
}

// A Handler answers time probes. Every response carries the server time in
// its Date header; requests with "time=now" in the query additionally get
// the time as Unix milliseconds in a JSON body.
type Handler struct {
	log *zap.Logger
	clk clockwork.Clock
}

func NewHandler(log *zap.Logger, clk clockwork.Clock) *Handler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Handler{log: log, clk: clk}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mtrcs := srvMetrics.Load()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		mtrcs.reqsRejected.Inc()
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	now := h.clk.Now()
	hdr := w.Header()
	hdr.Set("Cache-Control", "no-store")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Date", now.UTC().Format(http.TimeFormat))

	if r.URL.Query().Get("time") != "now" {
		w.WriteHeader(http.StatusOK)
		mtrcs.reqsServed.Inc()
		return
	}

	body := strconv.AppendInt(nil, now.UnixMilli(), 10)
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, err := w.Write(body)
		if err != nil {
			h.log.Debug("failed to write response", zap.Error(err))
			return
		}
	}
	mtrcs.reqsServed.Inc()
	mtrcs.reqsServedMillis.Inc()
}

// Listen opens a TCP listener on localAddr. With reusePort set, the socket is
// opened with SO_REUSEPORT so that several listeners can share the port.
func Listen(localAddr string, reusePort bool) (net.Listener, error) {
	if reusePort {
		return reuseport.Listen("tcp", localAddr)
	}
	return net.Listen("tcp", localAddr)
}

// Serve answers time probes on ln until ctx is done.
func Serve(ctx context.Context, log *zap.Logger, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if err != nil {
			log.Info("failed to shut down server", zap.Error(err))
		}
	}()
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func StartHTTPServer(ctx context.Context, log *zap.Logger, clk clockwork.Clock,
	localAddr string, reusePort bool) {
	log.Info("server listening via HTTP",
		zap.String("local address", localAddr),
		zap.Bool("reuse port", reusePort),
	)

	h := NewHandler(log, clk)

	n := 1
	if reusePort {
		n = httpServerNumListener
	}
	for range n {
		ln, err := Listen(localAddr, reusePort)
		if err != nil {
			log.Fatal("failed to listen for connections", zap.Error(err))
		}
		go func() {
			err := Serve(ctx, log, ln, h)
			if err != nil {
				log.Error("failed to serve requests", zap.Error(err))
			}
		}()
	}
}
