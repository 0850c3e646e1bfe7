// Package api wires the HTTP handlers into a router with the standard
// middleware chain.
package api

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsight/internal/api/handlers"
	"github.com/dvloznov/finsight/internal/api/middleware"
)

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Statements    *handlers.StatementsHandler
	Notifications *handlers.NotificationsHandler
	DB            handlers.Pinger
}

// NewRouter builds the HTTP handler for the API server.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Statements endpoints
	mux.HandleFunc("/api/statements", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.Statements.List(w, r)
		case http.MethodPost:
			h.Statements.Upload(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/statements/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.Statements.UploadSync(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/statements/", func(w http.ResponseWriter, r *http.Request) {
		id, action := splitResource(r.URL.Path, "/api/statements/")
		if id == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Statement ID is required")
			return
		}

		switch {
		case action == "" && r.Method == http.MethodGet:
			h.Statements.Get(w, r, id)
		case action == "" && r.Method == http.MethodDelete:
			h.Statements.Delete(w, r, id)
		case action == "default" && (r.Method == http.MethodPost || r.Method == http.MethodPut):
			h.Statements.SetDefault(w, r, id)
		case action == "transactions" && r.Method == http.MethodGet:
			h.Statements.Transactions(w, r, id)
		case action == "export" && r.Method == http.MethodGet:
			h.Statements.Export(w, r, id)
		case action == "" || action == "default" || action == "transactions" || action == "export":
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	// Notifications endpoints
	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.Notifications.List(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/notifications/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.Notifications.Stream(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/notifications/", func(w http.ResponseWriter, r *http.Request) {
		id, action := splitResource(r.URL.Path, "/api/notifications/")
		if id == "" || action != "read" {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.Notifications.MarkRead(w, r, id)
	})

	// Health check endpoint
	mux.HandleFunc("/health", handlers.Health(h.DB))

	// Apply middleware
	return middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)
}

// splitResource turns "/prefix/{id}/{action}" into id and action.
func splitResource(path, prefix string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ = strings.Cut(rest, "/")
	return id, action
}
