/*
 * Copyright 2025 The Aozora Authors. All rights reserved.
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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aozora-team/aozora/server"
	"github.com/aozora-team/aozora/server/backend/database/mongo"
	"github.com/aozora-team/aozora/server/effects"
	"github.com/aozora-team/aozora/server/logging"
)

var (
	gracefulTimeout = 10 * time.Second
)

var (
	flagConfPath string
	flagLogLevel string

	mongoConnectionURI     string
	mongoConnectionTimeout time.Duration
	mongoAozoraDatabase    string
	mongoPingTimeout       time.Duration

	storeEndpoint  string
	storeAccessKey string
	storeSecretKey string
	storeBucket    string

	actorCacheTTL time.Duration

	conf = server.NewConfig()
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server [options]",
		Short: "Start Aozora server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf.Backend.ActorCacheTTL = actorCacheTTL.String()

			if mongoConnectionURI != "" {
				conf.Mongo = &mongo.Config{
					ConnectionURI:     mongoConnectionURI,
					ConnectionTimeout: mongoConnectionTimeout.String(),
					AozoraDatabase:    mongoAozoraDatabase,
					PingTimeout:       mongoPingTimeout.String(),
				}
			}

			if storeEndpoint != "" {
				conf.ObjectStore = &effects.ObjectStoreConfig{
					Endpoint:  storeEndpoint,
					AccessKey: storeAccessKey,
					SecretKey: storeSecretKey,
					Bucket:    storeBucket,
				}
			}

			// If config file is given, command-line arguments will be overwritten.
			if flagConfPath != "" {
				parsed, err := server.NewConfigFromFile(flagConfPath)
				if err != nil {
					return err
				}
				conf = parsed
			}

			if err := logging.SetLogLevel(flagLogLevel); err != nil {
				return err
			}

			r, err := server.New(conf)
			if err != nil {
				return err
			}

			if err := r.Start(); err != nil {
				return err
			}

			if code := handleSignal(r); code != 0 {
				return fmt.Errorf("exit code: %d", code)
			}

			return nil
		},
	}
}

func handleSignal(r *server.Aozora) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
	select {
	case s := <-sigCh:
		sig = s
	case <-r.ShutdownCh():
		// server is already shutdown
		return 0
	}

	graceful := false
	if sig == syscall.SIGINT || sig == syscall.SIGTERM {
		graceful = true
	}

	gracefulCh := make(chan struct{})
	go func() {
		if err := r.Shutdown(graceful); err != nil {
			return
		}
		close(gracefulCh)
	}()

	select {
	case <-sigCh:
		return 1
	case <-time.After(gracefulTimeout):
		return 1
	case <-gracefulCh:
		return 0
	}
}

func init() {
	cmd := newServerCmd()
	cmd.Flags().StringVarP(
		&flagConfPath,
		"config",
		"c",
		"",
		"Config path",
	)
	cmd.Flags().StringVarP(
		&flagLogLevel,
		"log-level",
		"l",
		"info",
		"Log level: debug, info, warn, error, panic, fatal",
	)
	cmd.Flags().IntVar(
		&conf.Profiling.Port,
		"profiling-port",
		server.DefaultProfilingPort,
		"Profiling port",
	)
	cmd.Flags().BoolVar(
		&conf.Profiling.EnablePprof,
		"pprof-enabled",
		false,
		"Enable runtime profiling data via HTTP server.",
	)
	cmd.Flags().StringVar(
		&conf.Backend.AdminUser,
		"backend-admin-user",
		server.DefaultAdminUser,
		"The name of the default admin user, who has full permissions.",
	)
	cmd.Flags().BoolVar(
		&conf.Backend.ClaimRequiresPending,
		"backend-claim-requires-pending",
		server.DefaultClaimRequiresPending,
		"Only revisions still PENDING can be claimed for review.",
	)
	cmd.Flags().IntVar(
		&conf.Backend.ActorCacheSize,
		"backend-actor-cache-size",
		server.DefaultActorCacheSize,
		"The cache size of resolved actors.",
	)
	cmd.Flags().DurationVar(
		&actorCacheTTL,
		"backend-actor-cache-ttl",
		server.DefaultActorCacheTTL,
		"The TTL value to set when caching a resolved actor.",
	)
	cmd.Flags().StringVar(
		&conf.Backend.Hostname,
		"hostname",
		server.DefaultHostname,
		"Server hostname. If not provided, the hostname of the machine will be used.",
	)
	cmd.Flags().StringVar(
		&mongoConnectionURI,
		"mongo-connection-uri",
		"",
		"MongoDB's connection URI",
	)
	cmd.Flags().DurationVar(
		&mongoConnectionTimeout,
		"mongo-connection-timeout",
		server.DefaultMongoConnectionTimeout,
		"Mongo DB's connection timeout",
	)
	cmd.Flags().StringVar(
		&mongoAozoraDatabase,
		"mongo-aozora-database",
		server.DefaultMongoAozoraDatabase,
		"Aozora's database name in MongoDB",
	)
	cmd.Flags().DurationVar(
		&mongoPingTimeout,
		"mongo-ping-timeout",
		server.DefaultMongoPingTimeout,
		"Mongo DB's ping timeout",
	)
	cmd.Flags().StringVar(
		&storeEndpoint,
		"store-endpoint",
		"",
		"S3-compatible object store endpoint for image files",
	)
	cmd.Flags().StringVar(
		&storeAccessKey,
		"store-access-key",
		"",
		"Object store access key",
	)
	cmd.Flags().StringVar(
		&storeSecretKey,
		"store-secret-key",
		"",
		"Object store secret key",
	)
	cmd.Flags().StringVar(
		&storeBucket,
		"store-bucket",
		"aozora-images",
		"Object store bucket holding image files",
	)

	rootCmd.AddCommand(cmd)
}
