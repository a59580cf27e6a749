// Package main starts a replyq server.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/replyq/replyq/accept"
	accepthttp "github.com/replyq/replyq/accept/http"
	httpq "github.com/replyq/replyq/http"
	"github.com/replyq/replyq/logkeys"
	queuehttp "github.com/replyq/replyq/queue/http"
	"github.com/replyq/replyq/resolve"
	resolvehttp "github.com/replyq/replyq/resolve/http"
	"github.com/replyq/replyq/worker"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log/stdlogfmt"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "replyq"
	apiRealm    = "replyq"
)

func main() {
	var (
		flDebug   = flag.Bool("debug", false, "log debug messages")
		flListen  = flag.String("listen", ":9005", "HTTP listen address")
		flVersion = flag.Bool("version", false, "print version and exit")
		flDump    = flag.Bool("dump", false, "dump accepted request bodies")
		flAPIKey  = flag.String("api", "", "API key for API endpoints")
		flBaseURL = flag.String("base-url", "http://localhost:9005", "base URL for status and artifact locations")
		flStorage = flag.String("storage", "inmem", "name of storage backend")
		flDSN     = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flQueue   = flag.String("queue", "inmem", "name of queue backend")
		flQDSN    = flag.String("queue-dsn", "", "queue data source name (e.g. broker list)")
		flTopic   = flag.String("queue-topic", "replyq.work", "queue topic for work envelopes")
		flSecret  = flag.String("ref-secret", "", "secret for signing scoped artifact references")
		flRetrySc = flag.Uint("retry-after", uint(accept.DefaultRetryAfter/time.Second), "suggested poll delay in seconds")
		flRefSec  = flag.Uint("ref-ttl", uint(resolve.DefaultRefTTL/time.Second), "scoped reference lifetime in seconds")
		flWorkers = flag.Uint("workers", 1, "number of concurrent queue workers; 0 disables processing")
		flMaxDlv  = flag.Uint("max-deliveries", worker.DefaultMaxDeliveries, "envelope deliveries before dead-lettering")
	)
	envflag.Parse("REPLYQ_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	if *flSecret == "" {
		logger.Info(logkeys.Error, "ref-secret is required")
		os.Exit(1)
	}

	store, err := parseStorage(*flStorage, *flDSN, []byte(*flSecret))
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	q, err := parseQueue(*flQueue, *flQDSN, *flTopic)
	if err != nil {
		logger.Info(logkeys.Message, "parse queue", logkeys.Error, err)
		os.Exit(1)
	}

	acceptor := accept.New(
		q, *flBaseURL,
		accept.WithRetryAfter(time.Second*time.Duration(*flRetrySc)),
	)

	resolver := resolve.New(
		store, *flBaseURL,
		resolve.WithRetryAfter(time.Second*time.Duration(*flRetrySc)),
		resolve.WithRefTTL(time.Second*time.Duration(*flRefSec)),
	)

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))

	var acceptHandler http.Handler = accepthttp.AcceptHandler(acceptor, logger.With("handler", "accept"))
	if *flDump {
		acceptHandler = httpq.DumpHandler(acceptHandler, os.Stdout)
	}
	mux.Handle("/queue/:objectType", acceptHandler, "POST")

	resolvehttp.Handle("", mux, logger, resolver, store)

	if *flAPIKey != "" {
		mux.Group(func(mux *flow.Mux) {
			mux.Use(func(h http.Handler) http.Handler {
				return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
			})

			if inspector, ok := q.(queuehttp.DeadLetterInspector); ok {
				mux.Handle(
					"/v1/deadletter",
					queuehttp.DeadLettersHandler(inspector, logger.With("handler", "deadletter")),
					"GET",
				)
			}
		})
	}

	for i := uint(0); i < *flWorkers; i++ {
		w := worker.New(
			q, store, echoProcessor,
			worker.WithLogger(logger.With("service", "worker", "worker", i)),
			worker.WithMaxDeliveries(int(*flMaxDlv)),
		)
		go func() {
			err := w.Run(context.Background())
			logs := []interface{}{logkeys.Message, "worker stopped"}
			if err != nil {
				logs = append(logs, logkeys.Error, err)
			}
			logger.Info(logs...)
		}()
	}

	// seed for newTraceID
	rand.Seed(time.Now().UnixNano())

	logger.Info(logkeys.Message, "starting server", "listen", *flListen)
	err = http.ListenAndServe(*flListen, trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID))
	logs := []interface{}{logkeys.Message, "server shutdown"}
	if err != nil {
		logs = append(logs, logkeys.Error, err)
	}
	logger.Info(logs...)
}

// echoProcessor is the built-in processing function: the accepted
// payload becomes the result artifact unchanged. Real deployments embed
// the packages and inject their own worker.ProcessFunc.
func echoProcessor(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}

// newTraceID generates a new HTTP trace ID for context logging.
// Currently this just makes a random string. This would be better
// served by e.g. https://github.com/oklog/ulid or something like
// https://opentelemetry.io/ someday.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
