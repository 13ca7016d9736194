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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/ktncode/misskey-sub002/ap"
	"github.com/ktncode/misskey-sub002/cfg"
	"github.com/ktncode/misskey-sub002/data"
	"github.com/ktncode/misskey-sub002/httpsig"
	"github.com/ktncode/misskey-sub002/ldsig"
)

// Queue is an [ap.DeliveryQueue] backed by the deliveries table.
//
// Each inbox is a separate row, so a failed delivery is retried only for
// the inboxes that didn't receive the activity yet.
type Queue struct {
	Domain string
	Config *cfg.Config
	DB     *sql.DB
	Actors ap.ActorStore
	Client ap.HTTPClient
	Signer *ActivitySigner
	Log    *slog.Logger
}

var _ ap.DeliveryQueue = (*Queue)(nil)

type delivery struct {
	ID       int64
	Job      string
	Sender   string
	Activity string
	Inbox    string
	Attempts int
}

// DeliverMany queues the delivery of an activity to multiple inboxes, as one job.
func (q *Queue) DeliverMany(ctx context.Context, actor *ap.ActorRef, activity ap.Activity, inboxes map[string]bool) error {
	if len(inboxes) == 0 {
		q.Log.DebugContext(ctx, "Nothing to deliver", "activity", activity.ID())
		return nil
	}

	raw, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", activity.ID(), err)
	}

	job := uuid.NewString()

	sorted := make([]string, 0, len(inboxes))
	for inbox := range inboxes {
		sorted = append(sorted, inbox)
	}
	slices.Sort(sorted)

	tx, err := q.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to queue %s: %w", activity.ID(), err)
	}
	defer tx.Rollback()

	for _, inbox := range sorted {
		if _, err := tx.ExecContext(
			ctx,
			`insert into deliveries(job, sender, activity, inbox, shared) values(?, ?, ?, ?, ?)`,
			job,
			actor.ID,
			string(raw),
			inbox,
			inboxes[inbox],
		); err != nil {
			return fmt.Errorf("failed to queue %s for %s: %w", activity.ID(), inbox, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to queue %s: %w", activity.ID(), err)
	}

	q.Log.InfoContext(ctx, "Queued activity", "activity", activity.ID(), "job", job, "inboxes", len(sorted))
	return nil
}

// ProcessQueue delivers queued activities until ctx is done.
func (q *Queue) ProcessQueue(ctx context.Context) {
	t := time.NewTicker(q.Config.OutboxPollingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-t.C:
			if n, err := q.ProcessBatch(ctx); err != nil {
				q.Log.Error("Failed to deliver activities", "error", err)
			} else if n > 0 {
				q.Log.Info("Processed deliveries", "count", n)
			}
		}
	}
}

type signedActivity struct {
	Key  httpsig.Key
	Body []byte
	Err  error
}

// ProcessBatch attempts to deliver a batch of queued activities and returns the number of attempts.
func (q *Queue) ProcessBatch(ctx context.Context) (int, error) {
	q.Log.Debug("Polling delivery queue")

	batch, err := data.QueryCollectRows[delivery](
		ctx,
		q.DB,
		`select id, job, sender, activity, inbox, attempts from deliveries where sent = 0 and dead = 0 and (attempts = 0 or last <= ?) order by attempts asc, id asc limit ?`,
		time.Now().Add(-q.Config.DeliveryRetryInterval).Unix(),
		q.Config.DeliveryBatchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch activities to deliver: %w", err)
	}

	jobs := map[string]signedActivity{}

	for _, d := range batch {
		if _, err := q.DB.ExecContext(ctx, `update deliveries set last = unixepoch(), attempts = ? where id = ?`, d.Attempts+1, d.ID); err != nil {
			return 0, fmt.Errorf("failed to save last delivery attempt time for %s: %w", d.Job, err)
		}

		signed, ok := jobs[d.Job]
		if !ok {
			signed = q.sign(ctx, d)
			jobs[d.Job] = signed
		}

		err := signed.Err
		if err == nil {
			err = q.deliverWithTimeout(ctx, signed, d.Inbox)
		}

		if err == nil {
			if _, err := q.DB.ExecContext(ctx, `update deliveries set sent = 1 where id = ?`, d.ID); err != nil {
				return 0, fmt.Errorf("failed to mark delivery %s as sent: %w", d.Job, err)
			}

			q.Log.Info("Successfully delivered an activity", "job", d.Job, "inbox", d.Inbox, "attempts", d.Attempts+1)
			continue
		}

		var statusErr *StatusError
		if ldsig.IsUnrecoverable(err) || (errors.As(err, &statusErr) && statusErr.Permanent()) || d.Attempts+1 >= q.Config.MaxDeliveryAttempts {
			q.Log.Warn("Giving up on delivery", "job", d.Job, "inbox", d.Inbox, "attempts", d.Attempts+1, "error", err)

			if _, err := q.DB.ExecContext(ctx, `update deliveries set dead = 1 where id = ?`, d.ID); err != nil {
				return 0, fmt.Errorf("failed to mark delivery %s as dead: %w", d.Job, err)
			}

			continue
		}

		q.Log.Warn("Failed to deliver activity", "job", d.Job, "inbox", d.Inbox, "attempts", d.Attempts+1, "error", err)
	}

	return len(batch), nil
}

func (q *Queue) sign(ctx context.Context, d delivery) signedActivity {
	actor, err := q.Actors.FindByID(ctx, d.Sender)
	if err != nil {
		return signedActivity{Err: fmt.Errorf("failed to fetch sender of %s: %w", d.Job, err)}
	}

	key, err := q.Signer.Key(ctx, actor)
	if err != nil {
		return signedActivity{Err: err}
	}

	var activity ap.Activity
	if err := json.Unmarshal([]byte(d.Activity), &activity); err != nil {
		return signedActivity{Err: fmt.Errorf("failed to unmarshal %s: %w", d.Job, err)}
	}

	signed, err := q.Signer.Sign(ctx, actor, activity)
	if err != nil {
		return signedActivity{Err: err}
	}

	body, err := json.Marshal(signed)
	if err != nil {
		return signedActivity{Err: fmt.Errorf("failed to marshal %s: %w", d.Job, err)}
	}

	return signedActivity{Key: key, Body: body}
}

func (q *Queue) deliverWithTimeout(parent context.Context, signed signedActivity, inbox string) error {
	ctx, cancel := context.WithTimeout(parent, q.Config.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(signed.Body))
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", inbox, err)
	}

	req.Header.Set("Content-Type", activityStreamsType)
	req.Header.Set("Accept", activityStreamsType)

	if err := httpsig.Sign(req, signed.Key, time.Now()); err != nil {
		return fmt.Errorf("failed to sign request to %s: %w", inbox, err)
	}

	resp, err := q.Client.Send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, io.LimitReader(resp.Body, q.Config.MaxResponseBodySize))
	return nil
}
