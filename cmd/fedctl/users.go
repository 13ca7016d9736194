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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/cache"
	"github.com/ktncode/misskey-sub002/data"
	"github.com/spf13/cobra"
)

var errInvalidAcct = errors.New("invalid acct")

// parseAcct splits user@host, @user@host or acct:user@host. The host is empty for a local user.
func parseAcct(acct string) (string, string, error) {
	acct = strings.TrimPrefix(strings.TrimPrefix(acct, "acct:"), "@")

	username, host, _ := strings.Cut(acct, "@")
	if username == "" {
		return "", "", fmt.Errorf("%w: %s", errInvalidAcct, acct)
	}

	return username, host, nil
}

func printJSON(w io.Writer, v any) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

func readActivity(path string) (ap.Activity, error) {
	var buf []byte
	var err error
	if path == "-" {
		buf, err = io.ReadAll(os.Stdin)
	} else {
		buf, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var activity ap.Activity
	if err := json.Unmarshal(buf, &activity); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return activity, nil
}

func addUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adduser USERNAME",
		Short: "Create a local user",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, s *server, args []string) error {
			user, err := s.Actors.CreateLocal(ctx, s.Config.Domain, args[0])
			if err != nil {
				return err
			}

			s.Log.Info("Created user", "username", user.Username, "id", user.ID)
			fmt.Println(ap.LocalURI(s.Config.Domain, user.ID))
			return nil
		}),
	}
}

func followCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "follow ACCT USERNAME",
		Short: "Record that a remote actor follows a local user",
		Args:  cobra.ExactArgs(2),
		RunE: withServer(func(ctx context.Context, s *server, args []string) error {
			username, host, err := parseAcct(args[0])
			if err != nil {
				return err
			}

			follower, err := s.Resolver.ResolveUser(ctx, username, host)
			if err != nil {
				return err
			}

			followed, err := s.Actors.FindLocalByUsername(ctx, strings.ToLower(args[1]))
			if err != nil {
				return err
			}

			followers := data.Followers{DB: s.DB}
			if remove {
				err = followers.Unfollow(ctx, follower.ID, followed.ID)
			} else {
				err = followers.Follow(ctx, follower.ID, followed.ID)
			}
			if err != nil {
				return err
			}

			if c, ok := s.Followers.(*cache.Followers); ok {
				return c.Invalidate(ctx, followed.ID)
			}

			return nil
		}),
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "remove the follow instead")
	return cmd
}
