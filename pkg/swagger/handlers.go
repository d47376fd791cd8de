package swagger

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/crossfield/ssobroker/pkg/httputil"
)

//go:embed openapi.yaml
var openapiDoc []byte

// Handlers serves the API reference: the OpenAPI document itself and a
// Swagger UI page rendering it.
type Handlers struct{}

// NewHandlers returns the documentation handlers.
func NewHandlers() *Handlers {
	return &Handlers{}
}

// RegisterRoutes mounts the documentation endpoints. They sit next to the
// SSO routes, outside /api/v1, so the reference is reachable without a
// token.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/openapi.yaml", h.serveYAML).Methods("GET")
	router.HandleFunc("/openapi.json", h.serveJSON).Methods("GET")
	router.HandleFunc("/swagger-ui", h.serveUI).Methods("GET")
	router.HandleFunc("/api-docs", h.serveUI).Methods("GET") // alias
}

func (h *Handlers) serveYAML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(openapiDoc)
}

// serveJSON converts the embedded YAML on the fly; some client generators
// only accept JSON.
func (h *Handlers) serveJSON(w http.ResponseWriter, r *http.Request) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(openapiDoc, &doc); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(doc)
}

func (h *Handlers) serveUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(swaggerUIPage))
}

// swaggerUIPage loads Swagger UI from the CDN and points it at the YAML
// endpoint. The request interceptor forwards a bearer token kept in
// localStorage so "Try it out" works against the scoped API.
const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>SSO Broker API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui.css" />
  <link rel="icon" type="image/png" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/favicon-32x32.png" sizes="32x32" />
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; padding: 0; }
  </style>
</head>
<body>
<div id="swagger-ui"></div>

<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-bundle.js" charset="UTF-8"></script>
<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5.10.5/swagger-ui-standalone-preset.js" charset="UTF-8"></script>
<script>
window.onload = function() {
  window.ui = SwaggerUIBundle({
    url: "/openapi.yaml",
    dom_id: '#swagger-ui',
    deepLinking: true,
    presets: [
      SwaggerUIBundle.presets.apis,
      SwaggerUIStandalonePreset
    ],
    plugins: [
      SwaggerUIBundle.plugins.DownloadUrl
    ],
    layout: "StandaloneLayout",
    requestInterceptor: function(request) {
      const token = localStorage.getItem('ssob_api_token');
      if (token) {
        request.headers['Authorization'] = 'Bearer ' + token;
      }
      return request;
    }
  });
};
</script>
</body>
</html>`
