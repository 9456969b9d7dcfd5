/*
 * Copyright 2024 ACRONYM Group.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package aciserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const defaultWSPath = "/ws"

// loggerForCORS adapts a zerolog.Logger to rs/cors's Logger interface.
type loggerForCORS struct {
	logger zerolog.Logger
}

func (l *loggerForCORS) Printf(f string, args ...interface{}) {
	l.logger.Debug().Msgf(f, args...)
}

// newFrontDoorRouter builds the chi.Mux hosting /healthz and the
// WebSocket upgrade endpoint described in spec.md §4.10.
func newFrontDoorRouter(hub *Hub, registry *Registry, cfg *ServerConfig, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if cfg.CORS != nil {
		options := cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			ExposedHeaders:   cfg.CORS.ExposedHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			Debug:            cfg.CORS.Debug,
		}
		if cfg.CORS.MaxAge != nil && *cfg.CORS.MaxAge > 0 {
			options.MaxAge = *cfg.CORS.MaxAge
		}
		c := cors.New(options)
		if cfg.CORS.Debug {
			c.Log = &loggerForCORS{logger: logger.With().Bool("cors", true).Logger()}
		}
		r.Use(c.Handler)
	}

	wsPath := cfg.WSPath
	if wsPath == "" {
		wsPath = defaultWSPath
	}

	r.Get("/healthz", healthzHandler(registry, hub))
	r.HandleFunc(wsPath, wsUpgradeHandler(hub, cfg, logger))

	return r
}

func healthzHandler(registry *Registry, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"databases":           len(registry.DatabaseNames()),
			"connectedPrincipals": hub.ConnectedCount(),
		})
	}
}

func wsUpgradeHandler(hub *Hub, cfg *ServerConfig, logger zerolog.Logger) http.HandlerFunc {
	var originPatterns []string
	if cfg.CORS != nil {
		originPatterns = cfg.CORS.AllowedOrigins
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: len(originPatterns) == 0,
			OriginPatterns:     originPatterns,
		})
		if err != nil {
			logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		conn := newWSConn(ws)
		if err := hub.Serve(r.Context(), conn); err != nil {
			logger.Debug().Err(err).Msg("websocket connection ended")
		}
	}
}
