package app

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router assembles the HTTP surface. The OAuth2 callback and health check
// are public; everything under /api/mail requires a bearer token.
func (a *App) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", a.handlers.Health).Methods("GET")
	router.HandleFunc("/oauth2/callback", a.handlers.OAuthCallback).Methods("GET")

	api := router.PathPrefix("/api/mail").Subrouter()
	api.Use(a.auth.RequireAuth)

	api.HandleFunc("/accounts/connect", a.handlers.ConnectAccount).Methods("POST")
	api.HandleFunc("/accounts", a.handlers.ListAccounts).Methods("GET")
	api.HandleFunc("/accounts/{provider}", a.handlers.DisconnectAccount).Methods("DELETE")

	api.HandleFunc("/messages", a.handlers.SendMessage).Methods("POST")
	api.HandleFunc("/messages", a.handlers.ListMessages).Methods("GET")
	api.HandleFunc("/messages/{id}/status", a.handlers.UpdateMessageStatus).Methods("PATCH")

	api.HandleFunc("/templates", a.handlers.CreateTemplate).Methods("POST")
	api.HandleFunc("/templates", a.handlers.ListTemplates).Methods("GET")
	api.HandleFunc("/templates/{id}", a.handlers.GetTemplate).Methods("GET")

	api.HandleFunc("/sync-log", a.handlers.ListSyncLog).Methods("GET")

	return router
}
