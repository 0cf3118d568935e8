package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lifthrasiir/forkchat/internal/chat"
	"github.com/lifthrasiir/forkchat/internal/database"
	"github.com/lifthrasiir/forkchat/internal/env"
)

const shutdownTimeout = 30 * time.Second

// NewRouter builds the REST surface. A nil csrfKey leaves CSRF protection off.
func NewRouter(db *database.Database, service *chat.Service, config *env.EnvConfig, csrfKey []byte) *mux.Router {
	router := mux.NewRouter()
	router.Use(MakeContextMiddleware(db, service, config))

	if csrfKey != nil {
		router.Use(csrf.Protect(
			csrfKey,
			csrf.Secure(false), // Required because we are typically working on localhost
			csrf.HttpOnly(true),
			csrf.SameSite(csrf.SameSiteStrictMode),
			csrf.CookieName("_csrf"),
			csrf.Path("/"),
			csrf.ErrorHandler(http.HandlerFunc(csrfFailureHandler)),
		))
	}

	InitRouter(router)
	return router
}

func InitRouter(router *mux.Router) {
	router.HandleFunc("/healthz", healthHandler).Methods("GET")
	router.HandleFunc("/api/csrf", csrfTokenHandler).Methods("GET")

	router.HandleFunc("/api/chats", listChatsHandler).Methods("GET")
	router.HandleFunc("/api/chats", createChatHandler).Methods("POST")
	router.HandleFunc("/api/chats/{chatId}", getChatHandler).Methods("GET")
	router.HandleFunc("/api/chats/{chatId}", deleteChatHandler).Methods("DELETE")
	router.HandleFunc("/api/chats/{chatId}/name", renameChatHandler).Methods("POST")
	router.HandleFunc("/api/chats/{chatId}/status", setChatStatusHandler).Methods("POST")

	router.HandleFunc("/api/chats/{chatId}/branches", listBranchesHandler).Methods("GET")
	router.HandleFunc("/api/chats/{chatId}/branches", createBranchHandler).Methods("POST")
	router.HandleFunc("/api/chats/{chatId}/branches/active", switchBranchHandler).Methods("PUT")

	router.HandleFunc("/api/chats/{chatId}/messages", activeMessagesHandler).Methods("GET")
	router.HandleFunc("/api/chats/{chatId}/messages", appendMessageHandler).Methods("POST")
	router.HandleFunc("/api/chats/{chatId}/messages/{messageId}/edit", editMessageHandler).Methods("POST")
	router.HandleFunc("/api/chats/{chatId}/messages/{messageId}/siblings", siblingsHandler).Methods("GET")

	router.HandleFunc("/api/chats/{chatId}/heads", headsHandler).Methods("GET")
	router.HandleFunc("/api/chats/{chatId}/chain", chainHandler).Methods("GET")
	router.HandleFunc("/api/chats/{chatId}/edits", editRecordsHandler).Methods("GET")
	router.HandleFunc("/api/chats/{chatId}/compare", compareHandler).Methods("GET")
	router.HandleFunc("/api/chats/{chatId}/call", handleCall).Methods("GET", "DELETE")

	router.HandleFunc("/api/projects", listProjectsHandler).Methods("GET")
	router.HandleFunc("/api/projects", createProjectHandler).Methods("POST")
	router.HandleFunc("/api/projects/{projectId}", getProjectHandler).Methods("GET")
	router.HandleFunc("/api/projects/{projectId}", deleteProjectHandler).Methods("DELETE")
	router.HandleFunc("/api/projects/{projectId}/name", renameProjectHandler).Methods("POST")
	router.HandleFunc("/api/projects/{projectId}/chats", projectChatsHandler).Methods("GET")
	router.HandleFunc("/api/projects/{projectId}/chats", createProjectChatHandler).Methods("POST")
	router.HandleFunc("/api/projects/{projectId}/chats/{chatId}", deleteProjectChatHandler).Methods("DELETE")
	router.HandleFunc("/api/dashboard", dashboardHandler).Methods("GET")

	router.PathPrefix("/api").HandlerFunc(handleNotFound)
}

// LoadCSRFKey retrieves the CSRF key from the database, generating and saving one on first use.
func LoadCSRFKey(ctx context.Context, db *database.Database) ([]byte, error) {
	csrfKey, err := database.GetAppConfig(ctx, db, database.CSRFKeyName)
	if err != nil {
		return nil, err
	}
	if csrfKey != nil {
		log.Println("Loaded CSRF key from DB.")
		return csrfKey, nil
	}

	csrfKey = make([]byte, 32)
	if _, err := rand.Read(csrfKey); err != nil {
		return nil, err
	}
	if err := database.SetAppConfig(ctx, db, database.CSRFKeyName, csrfKey); err != nil {
		return nil, err
	}
	log.Println("Generated and saved new CSRF key.")
	return csrfKey, nil
}

// Serve runs the API listener, and the metrics listener when one is configured,
// until ctx is done or either listener fails.
func Serve(ctx context.Context, config *env.EnvConfig, handler http.Handler) error {
	servers := []*http.Server{{Addr: config.ListenAddr(), Handler: handler}}
	if config.MetricsAddr() != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: config.MetricsAddr(), Handler: metricsMux})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		g.Go(func() error {
			log.Printf("Listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, server := range servers {
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("Server forced to shutdown: %v", err)
			}
		}
		return nil
	})

	err := g.Wait()
	log.Println("Server exited")
	return err
}

// decodeJSONRequest decodes and validates the JSON request body.
func decodeJSONRequest(r *http.Request, w http.ResponseWriter, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		// Check if it's an EOF error, which happens with empty body
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			sendBadRequestError(w, r, "Empty request body")
		} else {
			sendBadRequestError(w, r, "Invalid request body")
		}
		return false
	}
	if err := validate.Struct(target); err != nil {
		sendBadRequestError(w, r, validationMessage(err))
		return false
	}
	return true
}

// sendJSONResponse sets JSON headers and encodes response
func sendJSONResponse(w http.ResponseWriter, data interface{}) {
	sendJSONResponseWithStatus(w, http.StatusOK, data)
}

func sendJSONResponseWithStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

func contextWithGlobals(
	ctx context.Context,
	db *database.Database,
	service *chat.Service,
	config *env.EnvConfig,
) context.Context {
	ctx = database.ContextWith(ctx, db)
	ctx = chat.ContextWith(ctx, service)
	ctx = env.ContextWithEnvConfig(ctx, config)
	return ctx
}

func MakeContextMiddleware(
	db *database.Database,
	service *chat.Service,
	config *env.EnvConfig,
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(contextWithGlobals(r.Context(), db, service, config))
			r = csrf.PlaintextHTTPRequest(r) // Required because we are typically working on localhost

			next.ServeHTTP(w, r)
		})
	}
}

func getDb(w http.ResponseWriter, r *http.Request) *database.Database {
	db, err := database.FromContext(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error: Database connection missing.", http.StatusInternalServerError)
		runtime.Goexit()
	}
	return db
}

func getService(w http.ResponseWriter, r *http.Request) *chat.Service {
	service, err := chat.ServiceFromContext(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error: Chat service missing.", http.StatusInternalServerError)
		runtime.Goexit()
	}
	return service
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	db := getDb(w, r)
	if err := db.PingContext(r.Context()); err != nil {
		sendInternalServerError(w, r, err, "Database is unreachable")
		return
	}
	sendJSONResponse(w, map[string]string{"status": "ok"})
}

func csrfTokenHandler(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, map[string]string{"token": csrf.Token(r)})
}
