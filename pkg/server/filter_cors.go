package server

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/tus"
)

const (
	FilterTypeCORS = "CORSFilter"
)

var (
	corsAllowMethods = "POST, HEAD, PATCH, OPTIONS, GET, DELETE"
	corsAllowHeaders = strings.Join([]string{
		"Authorization", "Origin", "X-Requested-With", "X-Request-ID", "X-HTTP-Method-Override",
		tus.HeaderContentType, tus.HeaderUploadLength, tus.HeaderUploadOffset, tus.HeaderTusResumable,
		tus.HeaderUploadMetadata, tus.HeaderUploadDeferLength, tus.HeaderUploadConcat, tus.HeaderUploadChecksum,
	}, ", ")
	corsExposeHeaders = strings.Join([]string{
		tus.HeaderUploadOffset, tus.HeaderLocation, tus.HeaderUploadLength, tus.HeaderTusVersion,
		tus.HeaderTusResumable, tus.HeaderTusMaxSize, tus.HeaderTusExtension, tus.HeaderTusChecksumAlgorithm,
		tus.HeaderUploadMetadata, tus.HeaderUploadDeferLength, tus.HeaderUploadConcat, tus.HeaderUploadExpires,
		"X-Request-ID",
	}, ", ")
)

// CORSConfig enables cross-origin access for browser clients
type CORSConfig struct {
	// AllowedOrigins lists exact origins. "*" allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxAge         int      `mapstructure:"max_age"`
}

// CORSFilter sets CORS headers for allowed origins and answers preflight
// requests. A tus OPTIONS without Access-Control-Request-Method passes
// through to capability discovery.
type CORSFilter struct {
	cfg CORSConfig
	any bool
}

func NewCORSFilter(cfg CORSConfig) *CORSFilter {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 86400
	}
	return &CORSFilter{cfg: cfg, any: slices.Contains(cfg.AllowedOrigins, "*")}
}

func (f *CORSFilter) allowed(origin string) bool {
	return f.any || slices.Contains(f.cfg.AllowedOrigins, origin)
}

func (f *CORSFilter) Run(d *Data) (Response, error) {
	origin := d.Req.Header.Get("Origin")
	if origin == "" || !f.allowed(origin) {
		return Next{}, nil
	}

	h := d.ResponseWriter.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")

	if d.Req.Method == http.MethodOptions && d.Req.Header.Get("Access-Control-Request-Method") != "" {
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Max-Age", strconv.Itoa(f.cfg.MaxAge))
		d.ResponseWriter.WriteHeader(http.StatusNoContent)
		return End{}, nil
	}

	h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	return Next{}, nil
}

func (f *CORSFilter) Type() string {
	return FilterTypeCORS
}
