// Command quartz-transport-demo exercises the publish/subscribe and
// request/reply paths of the core package end to end. Run two copies
// against each other on the same LAN segment to see discovery connect
// them: one with -role=pub, one with -role=sub, or -role=echo paired
// with -role=request.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quartz-robotics/quartz-transport/core"
	"github.com/quartz-robotics/quartz-transport/ident"
	"github.com/quartz-robotics/quartz-transport/metrics"
	"github.com/quartz-robotics/quartz-transport/registry"
)

func main() {
	role := flag.String("role", "pub", "demo role: pub, sub, echo, request")
	topic := flag.String("topic", "/chatter", "topic or service name")
	rate := flag.Duration("rate", time.Second, "publish/request interval")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on, e.g. :9090 (disabled if empty)")
	flag.Parse()

	sc, err := core.Instance()
	if err != nil {
		log.Fatalf("quartz-transport-demo: %v", err)
	}
	defer sc.Close()

	if *metricsAddr != "" {
		srv := metrics.NewServer(*metricsAddr)
		srv.StartAsync()
		defer srv.Stop()
		log.Printf("metrics: serving /metrics on %s", *metricsAddr)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	node := ident.NewNodeID()

	switch *role {
	case "pub":
		runPublisher(sc, node, *topic, *rate, quit)
	case "sub":
		runSubscriber(sc, node, *topic, quit)
	case "echo":
		runEcho(sc, node, *topic, quit)
	case "request":
		runRequester(sc, node, *topic, *rate, quit)
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q: want pub, sub, echo or request\n", *role)
		os.Exit(2)
	}
}

// runPublisher advertises topic and publishes an incrementing I32
// payload every rate, until interrupted.
func runPublisher(sc core.Core, node ident.NodeID, topic string, rate time.Duration, quit <-chan os.Signal) {
	rec, err := sc.AdvertiseMessage(topic, "I32", node, core.Options{})
	if err != nil {
		log.Fatalf("advertise %s: %v", topic, err)
	}
	defer sc.UnadvertiseMessage(rec.Topic, node)

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	var counter int32
	for {
		select {
		case <-quit:
			log.Println("publisher: shutting down")
			return
		case <-ticker.C:
			counter++
			payload := []byte{byte(counter >> 24), byte(counter >> 16), byte(counter >> 8), byte(counter)}
			if err := sc.Publish(rec.Topic, payload, "I32"); err != nil {
				log.Printf("publish: %v", err)
				continue
			}
			log.Printf("publisher: sent %d on %s", counter, topic)
		}
	}
}

// runSubscriber prints every message it receives on topic until
// interrupted.
func runSubscriber(sc core.Core, node ident.NodeID, topic string, quit <-chan os.Signal) {
	handler := ident.NewHandlerID()
	err := sc.Subscribe(topic, node, handler, "I32", func(msg registry.Message) {
		log.Printf("subscriber: got %v from %s", msg.Data, msg.Info.SenderAddr)
	}, core.Options{})
	if err != nil {
		log.Fatalf("subscribe %s: %v", topic, err)
	}
	name, _ := ident.FullyQualify(os.Getenv("IGN_PARTITION"), "", topic)
	defer sc.Unsubscribe(name, node)

	log.Printf("subscriber: listening on %s", topic)
	<-quit
	log.Println("subscriber: shutting down")
}

// runEcho advertises topic as a request/reply service that echoes its
// request bytes back unchanged.
func runEcho(sc core.Core, node ident.NodeID, topic string, quit <-chan os.Signal) {
	cb := func(reqBytes []byte, reqType, repType string) ([]byte, bool) {
		log.Printf("echo: serving request of %d bytes", len(reqBytes))
		return reqBytes, true
	}
	if err := sc.AdvertiseService(topic, node, "Bytes", "Bytes", cb, core.Options{}); err != nil {
		log.Fatalf("advertise service %s: %v", topic, err)
	}
	name, _ := ident.FullyQualify(os.Getenv("IGN_PARTITION"), "", topic)
	defer sc.UnadvertiseService(name, node)

	log.Printf("echo: serving %s", topic)
	<-quit
	log.Println("echo: shutting down")
}

// runRequester issues a blocking request against topic every rate,
// logging the round trip.
func runRequester(sc core.Core, node ident.NodeID, topic string, rate time.Duration, quit <-chan os.Signal) {
	name, _ := ident.FullyQualify(os.Getenv("IGN_PARTITION"), "", topic)
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			log.Println("requester: shutting down")
			return
		case <-ticker.C:
			start := time.Now()
			rep, ok, err := sc.RequestSync(name, node, []byte("ping"), "Bytes", "Bytes", 2*time.Second)
			if err != nil {
				log.Printf("request: %v", err)
				continue
			}
			log.Printf("requester: got %q (ok=%v) in %s", rep, ok, time.Since(start))
		}
	}
}
