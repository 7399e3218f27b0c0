package httpapi

import (
	"net/http"
	"time"

	"github.com/erauner12/garagesync/internal/service/entityservice"
)

// ServerInfo represents the server's capabilities and configuration
type ServerInfo struct {
	APIVersion  string                    `json:"apiVersion"`
	ServerTime  string                    `json:"serverTime"`
	Collections map[string]CollectionInfo `json:"collections"`
	RateLimit   *RateLimitInfo            `json:"rateLimit,omitempty"`
}

// RateLimitInfo describes the server's rate limiting policy
type RateLimitInfo struct {
	WindowSeconds int `json:"windowSeconds"` // e.g. 60
	MaxRequests   int `json:"maxRequests"`   // per window
	Burst         int `json:"burst"`         // token bucket size
}

// CollectionInfo describes one served collection
type CollectionInfo struct {
	Path         string `json:"path"`
	DefaultLimit int    `json:"defaultLimit"`
	MaxLimit     int    `json:"maxLimit"`
}

// Info handles GET /info
// Unauthenticated so clients can discover collection paths
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	reg := s.Entities.Registry()
	info := ServerInfo{
		APIVersion:  "1.0",
		ServerTime:  time.Now().UTC().Format(time.RFC3339Nano),
		Collections: map[string]CollectionInfo{},
	}
	for _, name := range reg.Names() {
		c, err := reg.Lookup(name)
		if err != nil {
			continue
		}
		info.Collections[name] = CollectionInfo{
			Path:         c.APIPath,
			DefaultLimit: entityservice.DefaultLimit,
			MaxLimit:     entityservice.MaxLimit,
		}
	}
	if s.RateLimitConfig.MaxRequests > 0 {
		rl := s.RateLimitConfig
		info.RateLimit = &rl
	}

	writeJSON(w, http.StatusOK, info)
}
