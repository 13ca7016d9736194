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
	"os"

	"github.com/spf13/cobra"
)

func webFingerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webfinger QUERY",
		Short: "Fetch the WebFinger document of user@host or a profile URL",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, s *server, args []string) error {
			doc, err := s.WebFinger.Resolve(ctx, args[0])
			if err != nil {
				return err
			}

			return printJSON(os.Stdout, doc)
		}),
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve ACCT",
		Short: "Resolve user@host to an actor, using the cache if fresh",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, s *server, args []string) error {
			username, host, err := parseAcct(args[0])
			if err != nil {
				return err
			}

			actor, err := s.Resolver.ResolveUser(ctx, username, host)
			if err != nil {
				return err
			}

			return printJSON(os.Stdout, actor)
		}),
	}
}
