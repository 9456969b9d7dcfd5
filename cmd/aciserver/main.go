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

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	aciserver "github.com/ACRONYM-Group/aci-server-go"
)

var (
	flagset      = pflag.NewFlagSet("", pflag.ContinueOnError)
	fversion     = flagset.BoolP("version", "v", false, "show version and exit")
	fflagsFile   = flagset.String("flags-file", "", "JSON or YAML file holding default values for any flag below")
	fpath        = flagset.String("path", "", "root directory every database is stored under")
	fconfigPath  = flagset.String("config-path", "", "override where the config database is loaded from")
	fmismatch    = flagset.Bool("mismatch", false, "require an exact manifest-version match on load")
	fallowAll    = flagset.Bool("allow-all", false, "accept any manifest version on load")
	fignoreCfg   = flagset.Bool("ignore-config", false, "skip reading ip/port from the config database (requires --ip and --port)")
	fip          = flagset.String("ip", "", "listen ip, overrides the config database")
	fport        = flagset.Uint16("port", 0, "listen port, overrides the config database")
	frawSocket   = flagset.Bool("raw-socket", false, "serve the raw newline-delimited TCP transport instead of HTTP/WebSocket")
	fboth        = flagset.Bool("both", false, "serve both the HTTP/WebSocket front door and the raw-TCP transport")
	fwsPath      = flagset.String("ws-path", "", "HTTP path the WebSocket upgrade endpoint listens on (default /ws)")
	fverbosity   = flagset.CountP("verbose", "V", "increase log verbosity (repeatable)")
	flog         = flagset.StringP("logtype", "l", "text", "print logs in 'text' (default) or 'json' format")
	fnocolor     = flagset.Bool("no-color", false, "do not colorize log output")
	foidcIssuer  = flagset.String("oidc-issuer", "", "OIDC issuer URL for g_auth verification; with no issuer here or in --flags-file, every g_auth is rejected")
	foidcAud     = flagset.String("oidc-audience", "", "OIDC audience; defaults to the OAUTH_CLIENT_ID environment variable")
)

var version string // set during build

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: aciserver [options]
aciserver is a small networked JSON key-value database server.

Options:
`)
	flagset.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ACRONYM Group 2024
`)
}

func main() {
	flagset.Usage = usage
	if err := flagset.Parse(os.Args[1:]); err == pflag.ErrHelp {
		return
	} else if err != nil || (*flog != "text" && *flog != "json") {
		usage()
		os.Exit(1)
	}

	log.SetFlags(0)
	if *fversion {
		fmt.Printf("aciserver v%s\nACRONYM Group 2024\n", version)
		return
	}
	os.Exit(realmain())
}

func realmain() int {
	cfg, err := buildConfig()
	if err != nil {
		log.Printf("aciserver: %v", err)
		return 1
	}

	logger := buildLogger(cfg.Verbosity)

	var oidcCfg aciserver.OIDCConfig
	if cfg.OIDC != nil {
		oidcCfg = *cfg.OIDC
	}
	if *foidcIssuer != "" {
		oidcCfg.IssuerURL = *foidcIssuer
	}
	if *foidcAud != "" {
		oidcCfg.Audience = *foidcAud
	}

	var extAuth aciserver.ExternalAuthenticator
	if oidcCfg.IssuerURL != "" {
		var err error
		extAuth, err = aciserver.NewOIDCExternalAuthenticator(context.Background(), oidcCfg)
		if err != nil {
			log.Printf("aciserver: failed to set up OIDC authenticator: %v", err)
			return 1
		}
	}

	server, err := aciserver.NewServer(cfg, extAuth, logger)
	if err != nil {
		log.Printf("aciserver: failed to create server: %v", err)
		return 1
	}
	if err := server.Start(); err != nil {
		log.Printf("aciserver: failed to start server: %v", err)
		return 1
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	<-ch
	signal.Stop(ch)
	close(ch)

	if err := server.Stop(time.Minute); err != nil {
		log.Printf("aciserver: warning: failed to stop server: %v", err)
	}

	return 0
}

// buildConfig assembles a ServerConfig from an optional --flags-file
// base, overlaid with whatever flags the user actually set, per
// SPEC_FULL.md §6.
func buildConfig() (*aciserver.ServerConfig, error) {
	cfg := &aciserver.ServerConfig{
		Path:         *fpath,
		ConfigPath:   *fconfigPath,
		Mismatch:     *fmismatch,
		AllowAll:     *fallowAll,
		IgnoreConfig: *fignoreCfg,
		IP:           *fip,
		Port:         *fport,
		RawSocket:    *frawSocket,
		Both:         *fboth,
		WSPath:       *fwsPath,
		Verbosity:    int(*fverbosity),
	}

	if *fflagsFile != "" {
		base, err := aciserver.LoadFlagsFile(*fflagsFile)
		if err != nil {
			return nil, fmt.Errorf("loading --flags-file: %w", err)
		}
		aciserver.MergeFlagsFile(cfg, base)
	}

	return cfg, nil
}

func buildLogger(verbosity int) zerolog.Logger {
	switch {
	case verbosity >= 2:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case verbosity == 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if *flog == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	out := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05.999",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()) || *fnocolor,
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
