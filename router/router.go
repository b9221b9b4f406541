package router

import (
	"net/http"
	"strings"

	handler "recordpad/internal/record"
	"recordpad/internal/record/service"
	"recordpad/middleware"
	"recordpad/socket"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(svc *service.RecordService, hub *socket.Hub, allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	// Commit feed
	upgrader := socket.NewUpgrader(allowedOrigins)
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket.ServeWs(hub, upgrader, w, r)
	})
	mux.Handle("/ws", middleware.LoggingMiddleware("ws", wsHandler))

	// REST API
	records := handler.NewRecordHandler(svc)
	mux.Handle("/commit", middleware.LoggingMiddleware("commit", http.HandlerFunc(records.Commit)))
	resource := middleware.LoggingMiddleware("resource", http.HandlerFunc(records.Resource))
	children := middleware.LoggingMiddleware("children", http.HandlerFunc(records.Children))

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Unescaped record URIs contain "//", which ServeMux would clean
		// and redirect, so record routes bypass it.
		path := r.URL.EscapedPath()
		switch {
		case strings.HasPrefix(path, handler.ResourcePrefix):
			resource.ServeHTTP(w, r)
			return
		case strings.HasPrefix(path, handler.ChildrenPrefix):
			children.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	return middleware.RecoverMiddleware(middleware.CORSMiddleware(allowedOrigins)(root))
}
