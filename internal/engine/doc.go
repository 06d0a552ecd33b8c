/*
Package engine drives HTTP/1.1 requests through a fixed sequence of stages
on a single event loop goroutine.

	Resolving -> Connecting -> WritingHeaders -> WritingBody ->
	ReadingStatus -> ReadingHeaders -> ReadingBody (repeated) -> done

Every blocking call on a Resolver or Connection runs on its own short-lived
goroutine. When it returns, its continuation is posted back to the loop, so
all per-request state is only touched from the loop goroutine.

Each request owns a timer, a timed-out flag and a cancel function. When the
timer fires the request is disconnected and failed with ErrTimeout right
away; completions that arrive afterwards are dropped. Every Future is
resolved exactly once, either with a Response or with an *Error.

Usage:

	e := engine.New(engine.Config{
		Resolver:    connection.NewTCPResolver(0),
		Connections: connection.DefaultFactory(nil),
		Timeout:     5 * time.Second,
	})
	defer e.Close()

	req, _ := types.NewRequest("GET", "http://example.com/", nil)
	resp, err := e.Submit(req, types.RequestOptions{}).Wait(ctx)
*/
package engine
