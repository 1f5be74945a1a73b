package keys

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"secure-xmlrpc/cryptobox"
)

// Handler serves the save-keys action at POST <mount>/<namespace>. The form
// carries "<namespace>_api_public_key" and "<namespace>_api_secret_key"; the
// answer is the JSON encoding of Result.
//
// A request is accepted when it carries either
//   - "Authorization: Bearer <admin token>", if an admin token is configured, or
//   - Basic credentials whose user is the namespace's current public key and
//     whose password is ChangeToken of the current pair.
//
// A namespace without stored keys can therefore only be provisioned with the
// admin token.
type Handler struct {
	manager    *Manager
	adminToken string
	logger     *zap.Logger
}

func NewHandler(manager *Manager, adminToken string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, adminToken: adminToken, logger: logger}
}

// ChangeToken returns the password that authorizes key changes for the holder
// of creds: md5(public + secret).
func ChangeToken(creds Credentials) string {
	return cryptobox.Hash(creds.PublicKey, creds.SecretKey)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "POST method required", http.StatusMethodNotAllowed)
		return
	}
	namespace := r.PathValue("namespace")
	if namespace == "" {
		namespace = r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	}
	if namespace == "" {
		http.Error(w, "namespace required", http.StatusBadRequest)
		return
	}

	ok, err := h.authorized(r, namespace)
	if err != nil {
		h.logger.Error("load keys", zap.String("namespace", namespace), zap.Error(err))
		http.Error(w, "could not check credentials", http.StatusInternalServerError)
		return
	}
	if !ok {
		h.logger.Warn("unauthorized key change",
			zap.String("namespace", namespace),
			zap.String("remote", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Basic realm="keys"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	creds := Credentials{
		PublicKey: strings.TrimSpace(r.PostForm.Get(PublicKeyOption(namespace))),
		SecretKey: strings.TrimSpace(r.PostForm.Get(SecretKeyOption(namespace))),
	}
	if err := creds.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.manager.Save(r.Context(), namespace, creds)
	if err != nil {
		h.logger.Error("save keys", zap.String("namespace", namespace), zap.Error(err))
		http.Error(w, "could not save keys", http.StatusInternalServerError)
		return
	}
	h.logger.Info("keys saved",
		zap.String("namespace", namespace),
		zap.Bool("success", res.Success),
		zap.Strings("message", res.Messages))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (h *Handler) authorized(r *http.Request, namespace string) (bool, error) {
	if BearerAuthorized(r, h.adminToken) {
		return true, nil
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false, nil
	}
	current, err := h.manager.Load(r.Context(), namespace)
	if err != nil {
		return false, err
	}
	if current.Validate() != nil {
		return false, nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(current.PublicKey)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(ChangeToken(current))) == 1
	return userOK && passOK, nil
}

// BearerAuthorized reports whether r carries "Authorization: Bearer <token>".
// An empty token authorizes nothing.
func BearerAuthorized(r *http.Request, token string) bool {
	if token == "" {
		return false
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
