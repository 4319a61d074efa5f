package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/linkdata/rsock"
)

var (
	listenAddr = flag.String("listen", "", "run a server on this address")
	serverAddr = flag.String("addr", "127.0.0.1:7878", "server address to dial")
	count      = flag.Int("n", 10, "number of requests to send")
	streamed   = flag.Bool("stream", false, "use request/stream instead of request/response")
	netlog     = flag.Bool("netlog", false, "log network frames")
)

// echoResponder echoes request payloads back, once for a
// request/response and as a short stream for a request/stream.
type echoResponder struct {
	rsock.NopResponder
}

func (echoResponder) HandleRequestResponse(p rsock.Payload) (rsock.Payload, error) {
	return p, nil
}

func (echoResponder) HandleRequestStream(p rsock.Payload, stream rsock.ResponderStream) error {
	go func() {
		for i := 0; i < 3; i++ {
			data := append([]byte(nil), p.Data...)
			data = append(data, '#', byte('0'+i))
			if err := stream.Send(rsock.Payload{Data: data}); err != nil {
				return
			}
		}
		stream.Complete()
	}()
	return nil
}

type printReceiver struct {
	wg *sync.WaitGroup
}

func (r printReceiver) OnNext(p rsock.Payload) {
	fmt.Printf("got %q\n", p.Data)
}

func (r printReceiver) OnComplete() {
	r.wg.Done()
}

func (r printReceiver) OnError(err error) {
	log.Print("stream error: ", err)
	r.wg.Done()
}

func runServer() {
	srv := &rsock.Server{
		Addr:      *listenAddr,
		Responder: echoResponder{},
	}
	srv.NetLog(*netlog)
	ln, err := srv.Listen(*listenAddr)
	if err != nil {
		log.Fatal(err)
	}
	log.Print("listening on ", srv.Addr)
	log.Fatal(srv.Serve(ln))
}

func runClient() {
	client := rsock.NewClient(*serverAddr)
	client.NetLog(*netlog)
	if err := client.Connect(); err != nil {
		log.Fatal(err)
	}
	defer client.Close()
	conn := client.Connection()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		wg.Add(1)
		payload := rsock.Payload{Data: []byte("ping " + strconv.Itoa(i))}
		var err error
		if *streamed {
			_, err = conn.RequestStream(payload, 16, printReceiver{wg: &wg})
		} else {
			_, err = conn.RequestResponse(payload, printReceiver{wg: &wg})
		}
		if err != nil {
			log.Fatal(err)
		}
	}
	wg.Wait()
	log.Printf("%d requests in %v", *count, time.Since(start))
}

func main() {
	flag.Parse()
	if *listenAddr != "" {
		runServer()
		return
	}
	runClient()
}
