// cmd/node is the main entrypoint for an eventmesh node.
//
// Configuration is entirely via flags so a single binary can serve any role
// in the mesh.
//
// Example — single node:
//
//	./node --id node1 --addr :8080 --data-dir /var/eventmesh/node1
//
// Example — 3-node mesh:
//
//	./node --id node1 --addr :8080 --gossip-addr :9090 --data-dir /tmp/n1 \
//	       --peers node2=localhost:9091,node3=localhost:9092
//	./node --id node2 --addr :8081 --gossip-addr :9091 --data-dir /tmp/n2 \
//	       --peers node1=localhost:9090,node3=localhost:9092
//	./node --id node3 --addr :8082 --gossip-addr :9092 --data-dir /tmp/n3 \
//	       --peers node1=localhost:9090,node2=localhost:9091
//
// --peers names each peer's gossip listener (its --gossip-addr), not its
// HTTP address.
//
// Grounded on the teacher's cmd/server/main.go: flag parsing, store open,
// gin router + middleware, signal-driven graceful shutdown with a final
// snapshot. The replicator/membership/quorum section is replaced with
// service.New + gossip.Config, and the background snapshot ticker is
// replaced by the projection engine's own auto-save cadence plus one final
// SaveProjectionStates call on shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"eventmesh/internal/api"
	"eventmesh/internal/payload"
	"eventmesh/internal/service"
	"eventmesh/internal/transport"
)

func main() {
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8080", "HTTP listen address (host:port)")
	gossipAddr := flag.String("gossip-addr", ":9090", "Gossip transport listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/eventmesh", "Directory for the event log, clocks, and projection snapshots")
	peersFlag := flag.String("peers", "", "Comma-separated list of peer nodes for gossip: id=host:port")
	fanout := flag.Int("fanout", 3, "Gossip fanout per round")
	gossipInterval := flag.Duration("gossip-interval", 2*time.Second, "Base interval between gossip rounds")
	flag.Parse()

	nodeDataDir := fmt.Sprintf("%s/%s", *dataDir, *nodeID)

	peerAddrs := make(map[string]string)
	if *peersFlag != "" {
		for _, entry := range strings.Split(*peersFlag, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				log.Fatalf("invalid peer format %q: expected id=host:port", entry)
			}
			peerAddrs[parts[0]] = parts[1]
		}
	}

	cfg := service.DefaultConfig(*nodeID, nodeDataDir)
	cfg.Gossip.Fanout = *fanout
	cfg.Gossip.GossipInterval = *gossipInterval
	if err := cfg.Gossip.Validate(); err != nil {
		log.Fatalf("invalid gossip config: %v", err)
	}

	adapter := transport.NewWebSocketAdapter(*nodeID, *gossipAddr, peerAddrs)

	svc, err := service.New(cfg, adapter)
	if err != nil {
		log.Fatalf("build service: %v", err)
	}

	svc.RegisterProjection(payload.NewRoomTimeline())
	svc.RegisterProjection(payload.NewAuthorCounts())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("start service: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	handler := api.NewHandler(svc)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("node %s: HTTP on %s, gossip on %s, fanout=%d, peers=%d",
			*nodeID, *addr, *gossipAddr, *fanout, len(peerAddrs))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down node", *nodeID)

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer httpCancel()

	if err := svc.SaveProjectionStates(); err != nil {
		log.Printf("final projection save error: %v", err)
	}
	if err := srv.Shutdown(httpCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	cancel()
	if err := svc.Stop(); err != nil {
		log.Printf("service shutdown error: %v", err)
	}
}
