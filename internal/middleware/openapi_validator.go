package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"botchat/internal/observability"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// OpenAPIValidatorConfig holds configuration for OpenAPI validation middleware
type OpenAPIValidatorConfig struct {
	// SpecPath is the path to the OpenAPI document
	SpecPath string
	// ValidateResponses logs responses that break the document. Requests are always validated.
	ValidateResponses bool
	// SkipPaths are path prefixes that bypass validation
	SkipPaths []string
}

// DefaultOpenAPIValidatorConfig returns the configuration used by the server
func DefaultOpenAPIValidatorConfig() *OpenAPIValidatorConfig {
	return &OpenAPIValidatorConfig{
		SpecPath: "artifacts/openapi.yaml",
		SkipPaths: []string{
			"/health",
			"/metrics",
			"/ws/",
		},
	}
}

// LoadOpenAPIRouter loads and validates the document at path
func LoadOpenAPIRouter(path string) (routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return router, nil
}

// OpenAPIValidator rejects requests that do not match the API document with
// 400 and, when enabled, logs responses that do not match it.
func OpenAPIValidator(config *OpenAPIValidatorConfig) (func(http.Handler) http.Handler, error) {
	if config == nil {
		config = DefaultOpenAPIValidatorConfig()
	}

	router, err := LoadOpenAPIRouter(config.SpecPath)
	if err != nil {
		return nil, err
	}

	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkipPath(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				observability.Warn(r.Context(), "request path not in openapi document",
					"method", r.Method, "path", r.URL.Path)
				writeValidationError(w, http.StatusNotFound, fmt.Sprintf("Unknown route: %s %s", r.Method, r.URL.Path))
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				observability.Warn(r.Context(), "request validation failed",
					"method", r.Method, "path", r.URL.Path, "error", err)
				writeValidationError(w, http.StatusBadRequest, "Request validation failed: "+firstLine(err.Error()))
				return
			}

			if !config.ValidateResponses {
				next.ServeHTTP(w, r)
				return
			}

			recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(recorder, r)

			responseInput := &openapi3filter.ResponseValidationInput{
				RequestValidationInput: input,
				Status:                 recorder.statusCode,
				Header:                 recorder.Header(),
				Body:                   io.NopCloser(bytes.NewReader(recorder.body.Bytes())),
				Options:                options,
			}
			if err := openapi3filter.ValidateResponse(r.Context(), responseInput); err != nil {
				// already sent; only visible in logs
				observability.Warn(r.Context(), "response validation failed",
					"method", r.Method, "path", r.URL.Path, "status", recorder.statusCode, "error", err)
			}
		})
	}, nil
}

func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func writeValidationError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// responseRecorder tees the response so it can be validated afterwards
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
