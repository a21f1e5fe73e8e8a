package main

import (
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/funny-falcon/segalloc/alloc"
)

var jsonConfig = jsoniter.Config{CaseSensitive: true}.Froze()

// Server exposes one allocator instance over HTTP for inspection and load
// generation. The engine is single-threaded; the mutex serializes handler
// access to it.
type Server struct {
	mu sync.Mutex
	al *alloc.Allocator
}

func (s *Server) handler(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.SetStatusCode(405)
		return
	}
	switch string(ctx.Path()) {
	case "/stats":
		s.doStats(ctx)
	case "/churn":
		s.doChurn(ctx)
	default:
		ctx.SetStatusCode(404)
	}
}

func (s *Server) doStats(ctx *fasthttp.RequestCtx) {
	s.mu.Lock()
	st := s.al.Stats()
	s.mu.Unlock()
	writeJSON(ctx, st)
}

func (s *Server) doChurn(ctx *fasthttp.RequestCtx) {
	ops := 10000
	seed := int64(1)
	if v := ctx.QueryArgs().Peek("ops"); len(v) > 0 {
		n, err := strconv.Atoi(string(v))
		if err != nil || n <= 0 {
			ctx.SetStatusCode(400)
			return
		}
		ops = n
	}
	if v := ctx.QueryArgs().Peek("seed"); len(v) > 0 {
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			ctx.SetStatusCode(400)
			return
		}
		seed = n
	}
	writeJSON(ctx, s.runChurn(ops, seed))
}

func writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	body, err := jsonConfig.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(500)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
