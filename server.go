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
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	readTimeout  = time.Minute
	writeTimeout = 5 * time.Minute
	idleTimeout  = 2 * time.Minute
)

// Server is the ACI server of spec.md §4: it owns the registry of loaded
// databases, the connection hub, and whichever transport(s) the
// configuration selects.
type Server struct {
	cfg    *ServerConfig
	logger zerolog.Logger

	registry *Registry
	hub      *Hub
	c        *cron.Cron

	httpSrv *http.Server
	tcpLnr  net.Listener

	bgctx       context.Context
	bgctxcancel context.CancelFunc
}

// NewServer validates cfg, loads the config database, and returns a
// Server ready for Start. Other databases are not loaded here; each is
// loaded on demand by a read_from_disk command.
// externalAuth may be nil, in which case every g_auth command fails
// verification.
func NewServer(cfg *ServerConfig, externalAuth ExternalAuthenticator, logger zerolog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, newErr(errBadPacket, "server config is nil")
	}
	for _, r := range cfg.validate() {
		if !r.Warn {
			return nil, newErr(errBadPacket, "invalid configuration: %s", r.Message)
		}
		logger.Warn().Msg(r.Message)
	}

	registry, err := NewRegistry(cfg.Path, cfg.ConfigPath, LoadOptions{StrictVersion: cfg.Mismatch, AllowAll: cfg.AllowAll}, logger)
	if err != nil {
		return nil, err
	}

	hub := NewHub(registry, externalAuth, logger)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		hub:      hub,
		c:        newCron(logger),
	}, nil
}

// resolveAddr applies spec.md §4.5's ip/port resolution: --ignore-config
// requires both to already be set on cfg; otherwise missing values fall
// back to the config database.
func (s *Server) resolveAddr() (string, error) {
	ip := s.cfg.IP
	port := uint64(s.cfg.Port)

	if !s.cfg.IgnoreConfig {
		if ip == "" {
			v, err := s.registry.ConfigIP()
			if err != nil {
				return "", newErr(errIO, "resolving ip from config database: %v", err)
			}
			ip = v
		}
		if port == 0 {
			v, err := s.registry.ConfigPort()
			if err != nil {
				return "", newErr(errIO, "resolving port from config database: %v", err)
			}
			port = v
		}
	}
	if ip == "" || port == 0 {
		return "", newErr(errBadPacket, "no ip/port available: set --ignore-config with --ip/--port, or populate the config database")
	}
	return fmt.Sprintf("%s:%d", ip, port), nil
}

// Start resolves the listen address, brings up the heartbeat cron, and
// starts whichever transport(s) cfg selects. Returns once every
// transport is listening; transports that fail after Start returns are
// only reported through logs.
func (s *Server) Start() error {
	s.bgctx, s.bgctxcancel = context.WithCancel(context.Background())

	addr, err := s.resolveAddr()
	if err != nil {
		return err
	}

	if err := startHeartbeat(s.c, s.cfg.HeartbeatSchedule, s.registry, s.hub, s.logger); err != nil {
		return err
	}
	s.c.Start()

	runHTTP := !s.cfg.RawSocket || s.cfg.Both
	runTCP := s.cfg.RawSocket || s.cfg.Both

	if runHTTP {
		r := newFrontDoorRouter(s.hub, s.registry, s.cfg, s.logger)
		lnr, err := net.Listen("tcp", addr)
		if err != nil {
			return newErr(errIO, "binding http listener on %q: %v", addr, err)
		}
		s.httpSrv = &http.Server{
			Handler:      r,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		}
		go func() {
			if err := s.httpSrv.Serve(lnr); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("http server stopped")
			}
		}()
		s.logger.Info().Str("listen", addr).Msg("http/websocket front door started")
	}

	if runTCP {
		tcpAddr := addr
		if runHTTP {
			// Both transports can't share one port; the raw-TCP side
			// takes the next one up so --both works without a second
			// address flag.
			host, p, splitErr := net.SplitHostPort(addr)
			if splitErr == nil {
				if portNum, convErr := parsePort(p); convErr == nil {
					tcpAddr = fmt.Sprintf("%s:%d", host, portNum+1)
				}
			}
		}
		lnr, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			return newErr(errIO, "binding raw-tcp listener on %q: %v", tcpAddr, err)
		}
		s.tcpLnr = lnr
		go func() {
			if err := acceptRawTCP(s.bgctx, lnr, s.hub, s.logger); err != nil {
				s.logger.Error().Err(err).Msg("raw-tcp transport stopped")
			}
		}()
		s.logger.Info().Str("listen", tcpAddr).Msg("raw-tcp transport started")
	}

	return nil
}

func parsePort(s string) (int, error) {
	var p int
	_, err := fmt.Sscanf(s, "%d", &p)
	return p, err
}

// Stop shuts down every running transport and the heartbeat cron,
// waiting up to timeout for in-flight connections to finish.
func (s *Server) Stop(timeout time.Duration) error {
	s.logger.Info().Dur("timeout", timeout).Msg("stop request received, shutting down")

	s.c.Stop()
	if s.bgctxcancel != nil {
		s.bgctxcancel()
	}

	var firstErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		s.httpSrv = nil
	}
	if s.tcpLnr != nil {
		if err := s.tcpLnr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.tcpLnr = nil
	}

	s.logger.Info().Msg("server stopped")
	return firstErr
}
