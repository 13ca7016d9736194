/*
Copyright 2026 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/cache"
	"github.com/ktncode/misskey-sub002/cfg"
	"github.com/ktncode/misskey-sub002/data"
	"github.com/ktncode/misskey-sub002/fed"
	"github.com/ktncode/misskey-sub002/ldsig"
	"github.com/ktncode/misskey-sub002/logcontext"
	"github.com/ktncode/misskey-sub002/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

// server holds everything a command needs.
type server struct {
	Config    *cfg.Config
	Log       *slog.Logger
	DB        *sql.DB
	Redis     *redis.Client
	BlockList *fed.BlockList
	Actors    *data.Actors
	Followers ap.FollowerCache
	Client    *fed.Client
	WebFinger *fed.WebFinger
	Persons   *fed.PersonFetcher
	Resolver  *fed.Resolver
	Signer    *fed.ActivitySigner
	Queue     *fed.Queue
	Planner   *fed.Planner
}

func newServer(ctx context.Context) (*server, error) {
	var conf *cfg.Config
	if configFile == "" {
		conf = &cfg.Config{}
		conf.FillDefaults()
	} else {
		var err error
		if conf, err = cfg.Load(configFile); err != nil {
			return nil, err
		}
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(logcontext.Wrap(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	db, err := sql.Open("sqlite3", conf.DatabasePath+"?"+conf.DatabaseOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", conf.DatabasePath, err)
	}

	if err := migrations.Run(ctx, log, conf.Domain, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &server{
		Config: conf,
		Log:    log,
		DB:     db,
		Actors: &data.Actors{DB: db},
	}

	s.Followers = &data.Followers{DB: db}
	if conf.RedisAddr != "" {
		s.Redis = redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
		s.Followers = &cache.Followers{
			Source: s.Followers,
			Redis:  s.Redis,
			TTL:    conf.FollowersCacheTTL,
			Log:    log,
		}
	}

	if conf.BlockListPath != "" {
		if s.BlockList, err = fed.NewBlockList(log, conf.BlockListPath); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load block list: %w", err)
		}
	}

	s.Client = &fed.Client{Config: conf, Doer: fed.NewHTTPClient(conf), Log: log}
	s.WebFinger = &fed.WebFinger{Config: conf, Client: s.Client, Log: log}
	s.Persons = &fed.PersonFetcher{Client: s.Client, Actors: s.Actors, Log: log}
	s.Resolver = &fed.Resolver{
		Domain:    conf.Domain,
		Config:    conf,
		Actors:    s.Actors,
		WebFinger: s.WebFinger,
		Persons:   s.Persons,
		BlockList: s.BlockList,
		Log:       log,
	}
	s.Signer = &fed.ActivitySigner{
		Domain: conf.Domain,
		Config: conf,
		Keys:   s.Actors,
		LD:     &ldsig.Signer{Client: s.Client, ContextTimeout: conf.ContextFetchTimeout},
		Log:    log,
	}
	s.Queue = &fed.Queue{
		Domain: conf.Domain,
		Config: conf,
		DB:     db,
		Actors: s.Actors,
		Client: s.Client,
		Signer: s.Signer,
		Log:    log,
	}
	s.Planner = &fed.Planner{Followers: s.Followers, Queue: s.Queue, Log: log}

	return s, nil
}

func (s *server) Close() {
	if s.BlockList != nil {
		s.BlockList.Close()
	}

	if s.Redis != nil {
		s.Redis.Close()
	}

	s.DB.Close()
}

// withServer runs f with a fully initialized [server].
func withServer(f func(context.Context, *server, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := newServer(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		return f(cmd.Context(), s, args)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "fedctl",
		Short:         "ActivityPub actor resolution and delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		addUserCmd(),
		followCmd(),
		webFingerCmd(),
		resolveCmd(),
		signCmd(),
		verifyCmd(),
		deliverCmd(),
		serveCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
