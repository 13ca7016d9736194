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
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ktncode/misskey-sub002/data"
	"github.com/ktncode/misskey-sub002/fed"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr, cert, key string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve discovery endpoints and deliver queued activities",
		Args:  cobra.NoArgs,
		RunE: withServer(func(ctx context.Context, s *server, _ []string) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			srv := &http.Server{
				Addr:              addr,
				Handler:           fed.NewMux(s.Config.Domain, s.Actors, s.Log),
				ReadHeaderTimeout: time.Second * 10,
			}

			var wg sync.WaitGroup

			wg.Go(func() {
				s.Queue.ProcessQueue(ctx)
			})

			wg.Go(func() {
				gc := data.GarbageCollector{Config: s.Config, DB: s.DB}

				t := time.NewTicker(s.Config.GCInterval)
				defer t.Stop()

				for {
					if err := gc.Run(ctx); err != nil {
						s.Log.Error("Failed to collect garbage", "error", err)
					}

					select {
					case <-ctx.Done():
						return
					case <-t.C:
					}
				}
			})

			wg.Go(func() {
				<-ctx.Done()
				s.Log.Info("Shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			})

			s.Log.Info("Starting server", "addr", addr, "domain", s.Config.Domain)

			var err error
			if cert != "" && key != "" {
				err = srv.ListenAndServeTLS(cert, key)
			} else {
				err = srv.ListenAndServe()
			}

			cancel()
			wg.Wait()

			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}),
	}

	cmd.Flags().StringVar(&addr, "addr", ":8443", "listening address")
	cmd.Flags().StringVar(&cert, "cert", "", "TLS certificate")
	cmd.Flags().StringVar(&key, "key", "", "TLS key")
	return cmd
}
