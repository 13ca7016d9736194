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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/data"
	"github.com/ktncode/misskey-sub002/ldsig"
	"github.com/spf13/cobra"
)

var errInvalidSignature = errors.New("invalid signature")

func signCmd() *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "sign FILE",
		Short: "Sign an activity on behalf of a local user",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, s *server, args []string) error {
			activity, err := readActivity(args[0])
			if err != nil {
				return err
			}

			actor, err := s.Actors.FindLocalByUsername(ctx, strings.ToLower(as))
			if err != nil {
				return err
			}

			signed, err := s.Signer.Sign(ctx, actor, activity)
			if err != nil {
				return err
			}

			return printJSON(os.Stdout, signed)
		}),
	}

	cmd.Flags().StringVar(&as, "as", "", "local username")
	cmd.MarkFlagRequired("as")
	return cmd
}

// signingKey returns the actor that owns the key that created a signature.
func signingKey(ctx context.Context, s *server, creator string) (*ap.ActorRef, error) {
	owner, _, _ := strings.Cut(creator, "#")

	if id, ok := ap.LocalUserID(s.Config.Domain, owner); ok {
		return s.Actors.FindByID(ctx, id)
	}

	actor, err := s.Actors.FindByURI(ctx, owner)
	if errors.Is(err, ap.ErrNotFound) || (err == nil && !actor.FetchedWithin(time.Now(), s.Config.ResolverCacheTTL)) {
		return s.Persons.CreatePerson(ctx, owner)
	}
	return actor, err
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE",
		Short: "Verify the Linked Data Signature of an activity",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, s *server, args []string) error {
			activity, err := readActivity(args[0])
			if err != nil {
				return err
			}

			sig, err := ldsig.SignatureOf(activity)
			if err != nil {
				return err
			}

			actor, err := signingKey(ctx, s, sig.Creator)
			if err != nil {
				return fmt.Errorf("failed to fetch key %s: %w", sig.Creator, err)
			}

			if actor.KeyID != sig.Creator {
				return fmt.Errorf("%w: %s is not the key of %s", errInvalidSignature, sig.Creator, actor.URI)
			}

			key, err := data.ParseRSAPublicKey(actor.PublicKeyPem)
			if err != nil {
				return fmt.Errorf("failed to parse key %s: %w", sig.Creator, err)
			}

			valid, err := s.Signer.LD.Verify(ctx, activity, key)
			if err != nil {
				return err
			} else if !valid {
				return fmt.Errorf("%w: %s", errInvalidSignature, activity.ID())
			}

			fmt.Printf("%s: valid signature by %s\n", activity.ID(), sig.Creator)
			return nil
		}),
	}
}

func deliverCmd() *cobra.Command {
	var (
		as        string
		followers bool
		to        []string
		now       bool
	)

	cmd := &cobra.Command{
		Use:   "deliver FILE",
		Short: "Queue delivery of an activity to followers and other recipients",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, s *server, args []string) error {
			activity, err := readActivity(args[0])
			if err != nil {
				return err
			}

			actor, err := s.Actors.FindLocalByUsername(ctx, strings.ToLower(as))
			if err != nil {
				return err
			}

			plan := s.Planner.NewPlan(actor, activity)
			if followers {
				plan.AddFollowers()
			}

			for _, acct := range to {
				username, host, err := parseAcct(acct)
				if err != nil {
					return err
				}

				recipient, err := s.Resolver.ResolveUser(ctx, username, host)
				if err != nil {
					return err
				}

				if recipient.IsLocal() {
					s.Log.Info("Skipping local recipient", "acct", acct)
					continue
				}

				plan.AddDirect(recipient)
			}

			if err := plan.Execute(ctx); err != nil {
				return err
			}

			if !now {
				return nil
			}

			for {
				n, err := s.Queue.ProcessBatch(ctx)
				if err != nil {
					return err
				} else if n == 0 {
					return nil
				}
			}
		}),
	}

	cmd.Flags().StringVar(&as, "as", "", "local username")
	cmd.Flags().BoolVar(&followers, "followers", false, "deliver to followers")
	cmd.Flags().StringArrayVar(&to, "to", nil, "deliver to user@host")
	cmd.Flags().BoolVar(&now, "now", false, "deliver immediately instead of waiting for the queue processor")
	cmd.MarkFlagRequired("as")
	return cmd
}
