package main

import (
	"log"
	"net/http"

	// side-effect import: registers its handlers ("/debug/charts/...") on
	// http.DefaultServeMux, exactly where the teacher's example/
	// web_server.go mounted it.
	_ "github.com/mkevac/debugcharts"
)

// serveDebugCharts exposes live goroutine/heap/GC charts at
// http://addr/debug/charts/, useful while developing the bridge against
// hostsim: a stuck M2 button-approval wait or a leaking heartbeat goroutine
// shows up immediately.
func serveDebugCharts(addr string) {
	log.Printf("defendersim: debug charts on http://%s/debug/charts/", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Printf("defendersim: debug charts server: %v", err)
	}
}
