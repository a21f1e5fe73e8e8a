package main

import (
	"flag"
	"log"

	"github.com/valyala/fasthttp"

	"github.com/funny-falcon/segalloc/alloc"
)

var port = flag.String("port", "8080", "port to listen")
var churnOps = flag.Int("churn", 0, "churn operations to run at startup")
var churnSeed = flag.Int64("seed", 1, "churn seed")

func main() {
	log.SetFlags(log.Lmicroseconds | log.Lshortfile)
	flag.Parse()

	srv := &Server{al: alloc.New()}
	if *churnOps > 0 {
		rep := srv.runChurn(*churnOps, *churnSeed)
		log.Printf("churn: %+v", rep)
	}

	err := fasthttp.ListenAndServe(":"+*port, srv.handler)
	if err != nil {
		log.Fatal(err)
	}
}
