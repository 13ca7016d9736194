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

package fed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/data"
)

// Recipe describes who should receive an activity. It's either a
// [FollowersRecipe] or a [DirectRecipe].
type Recipe interface {
	isRecipe()
}

// FollowersRecipe delivers to all remote followers of the sender.
type FollowersRecipe struct{}

// DirectRecipe delivers to a single actor.
type DirectRecipe struct {
	To *ap.ActorRef
}

func (FollowersRecipe) isRecipe() {}
func (DirectRecipe) isRecipe()    {}

// Planner computes the inboxes an activity should be delivered to and queues the delivery.
type Planner struct {
	Followers ap.FollowerCache
	Queue     ap.DeliveryQueue
	Log       *slog.Logger
}

// Plan is a single delivery of an activity, built from recipes and executed once.
type Plan struct {
	planner  *Planner
	actor    *ap.ActorRef
	activity ap.Activity
	recipes  []Recipe
}

// NewPlan starts a delivery plan.
//
// It panics if actor is not local.
func (p *Planner) NewPlan(actor *ap.ActorRef, activity ap.Activity) *Plan {
	if actor == nil || !actor.IsLocal() {
		panic(fmt.Sprintf("%v: cannot deliver as a remote actor", ErrInvalidActor))
	}

	return &Plan{
		planner:  p,
		actor:    actor,
		activity: activity,
	}
}

// DeliverToFollowers delivers an activity to all remote followers of actor.
func (p *Planner) DeliverToFollowers(ctx context.Context, actor *ap.ActorRef, activity ap.Activity) error {
	return p.NewPlan(actor, activity).AddFollowers().Execute(ctx)
}

// DeliverToUser delivers an activity to a single remote actor.
func (p *Planner) DeliverToUser(ctx context.Context, actor *ap.ActorRef, activity ap.Activity, to *ap.ActorRef) error {
	return p.NewPlan(actor, activity).AddDirect(to).Execute(ctx)
}

// DeliverToUsers delivers an activity to multiple remote actors.
func (p *Planner) DeliverToUsers(ctx context.Context, actor *ap.ActorRef, activity ap.Activity, to []*ap.ActorRef) error {
	plan := p.NewPlan(actor, activity)
	for _, target := range to {
		plan.AddDirect(target)
	}
	return plan.Execute(ctx)
}

// AddFollowers adds a [FollowersRecipe].
func (p *Plan) AddFollowers() *Plan {
	p.recipes = append(p.recipes, FollowersRecipe{})
	return p
}

// AddDirect adds a [DirectRecipe].
func (p *Plan) AddDirect(to *ap.ActorRef) *Plan {
	p.recipes = append(p.recipes, DirectRecipe{To: to})
	return p
}

// Targets returns the deduplicated list of inboxes.
//
// Followers are processed before direct recipients, so a direct recipient
// already reachable through a shared inbox is skipped. If both a shared and
// a private inbox share a URL, the shared one wins.
func (p *Plan) Targets(ctx context.Context) ([]ap.InboxTarget, error) {
	inboxes := data.OrderedMap[string, bool]{}

	var direct []*ap.ActorRef
	followers := false
	for _, recipe := range p.recipes {
		switch r := recipe.(type) {
		case FollowersRecipe:
			followers = true
		case DirectRecipe:
			direct = append(direct, r.To)
		default:
			panic(fmt.Sprintf("unknown recipe: %T", recipe))
		}
	}

	if followers {
		list, err := p.planner.Followers.FetchFollowers(ctx, p.actor.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list followers of %s: %w", p.actor.ID, err)
		}

		for _, follower := range list {
			if follower.Host == "" {
				continue
			}

			if follower.SharedInbox != "" {
				inboxes.Set(follower.SharedInbox, true)
			} else if follower.Inbox != "" {
				inboxes.Store(follower.Inbox, false)
			} else {
				p.planner.Log.DebugContext(ctx, "Skipping follower without inbox", "host", follower.Host)
			}
		}
	}

	for _, to := range direct {
		if to == nil {
			continue
		}

		if to.SharedInbox != "" && inboxes.Contains(to.SharedInbox) {
			continue
		}

		if to.Inbox == "" {
			p.planner.Log.DebugContext(ctx, "Skipping recipient without inbox", "uri", to.URI)
			continue
		}

		inboxes.Store(to.Inbox, false)
	}

	targets := make([]ap.InboxTarget, 0, len(inboxes))
	for inbox, shared := range inboxes.All() {
		targets = append(targets, ap.InboxTarget{Inbox: inbox, Shared: shared})
	}

	return targets, nil
}

// Execute queues the delivery, in a single call to the [ap.DeliveryQueue].
func (p *Plan) Execute(ctx context.Context) error {
	targets, err := p.Targets(ctx)
	if err != nil {
		return err
	}

	inboxes := make(map[string]bool, len(targets))
	for _, target := range targets {
		inboxes[target.Inbox] = target.Shared
	}

	p.planner.Log.InfoContext(ctx, "Queueing delivery", "activity", p.activity.ID(), "sender", p.actor.ID, "inboxes", len(inboxes))

	return p.planner.Queue.DeliverMany(ctx, p.actor, p.activity, inboxes)
}
