/*
Package fasthttpd is a static file HTTP/1.1 server built on a readiness
reactor and a fixed pool of worker threads.

One goroutine, locked to an OS thread, waits on epoll, accepts connections
and performs every socket read and write. Workers parse buffered requests,
resolve them against the document root and prepare responses. Files are
memory mapped and sent together with the response headers in a single
gathered write.

Only GET over HTTP/1.1 is served. Responses are 200, 400, 403, 404 or 500;
the error responses carry fixed HTML bodies. Connections stay open when the
client asks for keep-alive.

Quick Start

	fast-httpd 8080
	fast-httpd --root /srv/www --threads 16 --metrics 8080
	FASTHTTPD_SERVER_THREADS=16 fast-httpd -c config.yaml

Embedding the engine:

	opts := core.DefaultOptions()
	opts.DocumentRoot = "/srv/www"

	engine, err := core.NewEngine(opts, nil)
	if err != nil {
		log.Fatal(err)
	}
	log.Fatal(engine.Run(ctx, ":8080"))

Modules

  - app: Application lifecycle, signals and the metrics listener
  - config: Configuration from file, environment and flags
  - logger: Leveled text or JSON logging
  - core: Reactor engine and connection lifecycle
  - core/http: Request parsing and response building
  - core/static: URL to file resolution and memory mapped files
  - core/poller: Edge-triggered one-shot epoll
  - core/pools: Worker pool, connection slots and GC tuning
  - core/observability: Prometheus metrics

The server runs on Linux only.
*/
package fasthttpd
