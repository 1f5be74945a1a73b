package features

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"secure-xmlrpc/keys"
)

// HistoryHandler serves GET <mount>/<namespace> with the JSON list of the
// changes a namespace's MemoryStore retains, oldest first. Requests must carry
// "Authorization: Bearer <token>".
type HistoryHandler struct {
	token string

	mu     sync.RWMutex
	stores map[string]*MemoryStore
}

func NewHistoryHandler(token string) *HistoryHandler {
	return &HistoryHandler{token: token, stores: make(map[string]*MemoryStore)}
}

// Add publishes the history of namespace.
func (h *HistoryHandler) Add(namespace string, store *MemoryStore) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stores[namespace] = store
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "GET method required", http.StatusMethodNotAllowed)
		return
	}
	if !keys.BearerAuthorized(r, h.token) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="features"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	namespace := r.PathValue("namespace")
	if namespace == "" {
		namespace = r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	}

	h.mu.RLock()
	store, ok := h.stores[namespace]
	h.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(store.Changes())
}
