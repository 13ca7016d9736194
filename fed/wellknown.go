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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ktncode/misskey-sub002/ap"
)

const activityStreamsType = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// WebFingerHandler serves WebFinger documents of local actors.
type WebFingerHandler struct {
	Domain string
	Actors ap.ActorStore
	Log    *slog.Logger
}

func (h *WebFingerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resource := r.URL.Query().Get("resource")
	if resource == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("No resource"))
		return
	}

	var actor *ap.ActorRef
	var err error

	if id, ok := ap.LocalUserID(h.Domain, resource); ok {
		actor, err = h.Actors.FindByID(r.Context(), id)
	} else {
		username, host, ok := strings.Cut(strings.TrimPrefix(resource, "acct:"), "@")
		if !ok || username == "" {
			h.Log.Info("Received invalid resource", "resource", resource)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("Resource must be user@host"))
			return
		}

		if !ap.SameHost(host, h.Domain) {
			h.Log.Info("Received invalid resource", "resource", resource, "domain", host)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Resource must end with @%s", h.Domain)
			return
		}

		actor, err = h.Actors.FindLocalByUsername(r.Context(), strings.ToLower(username))
	}

	if errors.Is(err, ap.ErrNotFound) || (err == nil && !actor.IsLocal()) {
		h.Log.Info("Notifying that user does not exist", "resource", resource)
		w.WriteHeader(http.StatusNotFound)
		return
	} else if err != nil {
		h.Log.Warn("Failed to look up user", "resource", resource, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	uri := ap.LocalURI(h.Domain, actor.ID)

	j, err := json.Marshal(ap.WebFingerDocument{
		Subject: fmt.Sprintf("acct:%s@%s", actor.Username, h.Domain),
		Aliases: []string{uri},
		Links: []ap.WebFingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: uri,
			},
			{
				Rel:  "self",
				Type: activityStreamsType,
				Href: uri,
			},
		},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/jrd+json; charset=utf-8")
	w.Write(j)
}

// HostMetaHandler advertises the WebFinger URL template.
type HostMetaHandler struct {
	Domain string
}

func (h *HostMetaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xrd+xml; charset=utf-8")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<XRD xmlns="http://docs.oasis-open.org/ns/xri/xrd-1.0">
  <Link rel="lrdd" template="https://%s/.well-known/webfinger?resource={uri}"/>
</XRD>
`, h.Domain)
}

// ActorHandler serves actor documents of local actors, under /users/.
type ActorHandler struct {
	Domain string
	Actors ap.ActorStore
	Log    *slog.Logger
}

func (h *ActorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := ap.LocalUserID(h.Domain, ap.LocalURI(h.Domain, strings.TrimPrefix(r.URL.Path, "/users/")))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	actor, err := h.Actors.FindByID(r.Context(), id)
	if errors.Is(err, ap.ErrNotFound) || (err == nil && !actor.IsLocal()) {
		w.WriteHeader(http.StatusNotFound)
		return
	} else if err != nil {
		h.Log.Warn("Failed to look up user", "id", id, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	uri := ap.LocalURI(h.Domain, actor.ID)

	j, err := json.Marshal(ap.Actor{
		Context:           []string{"https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"},
		ID:                uri,
		Type:              ap.Person,
		Inbox:             actor.Inbox,
		PreferredUsername: actor.Username,
		PublicKey: ap.PublicKey{
			ID:           actor.KeyID,
			Owner:        uri,
			PublicKeyPem: actor.PublicKeyPem,
		},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", activityStreamsType)
	w.Write(j)
}

// NewMux returns an [http.ServeMux] that serves local actors and discovery documents.
func NewMux(domain string, actors ap.ActorStore, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /.well-known/webfinger", &WebFingerHandler{Domain: domain, Actors: actors, Log: log})
	mux.Handle("GET /.well-known/host-meta", &HostMetaHandler{Domain: domain})
	mux.Handle("GET /users/", &ActorHandler{Domain: domain, Actors: actors, Log: log})
	return mux
}
