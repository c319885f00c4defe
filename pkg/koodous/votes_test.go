// ABOUTME: Unit tests for vote operations
// ABOUTME: Verifies kind validation and that cast votes show up in the listing

package koodous

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
)

// voteServer records one vote per analyst, the latest replacing earlier
// ones, and attributes every vote to the token owner.
func voteServer(t *testing.T, username string) http.Handler {
	t.Helper()

	var (
		mu    sync.Mutex
		order []string
		byWho = map[string]Vote{}
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/analysts/current", func(w http.ResponseWriter, r *http.Request) {
		requireToken(t, r)
		writeJSON(t, w, http.StatusOK, User{Username: username})
	})
	mux.HandleFunc("/apks/"+testSHA256+"/votes", func(w http.ResponseWriter, r *http.Request) {
		requireToken(t, r)
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPost:
			var body struct {
				Kind VoteKind `json:"kind"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if _, ok := byWho[username]; !ok {
				order = append(order, username)
			}
			byWho[username] = Vote{Kind: body.Kind, Analyst: username}
			writeJSON(t, w, http.StatusCreated, body)
		default:
			list := VoteList{Results: []Vote{}}
			for _, who := range order {
				list.Results = append(list.Results, byWho[who])
			}
			list.Count = len(list.Results)
			writeJSON(t, w, http.StatusOK, list)
		}
	})
	return mux
}

func TestClient_VoteAPK_ThenVotes(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, voteServer(t, "malware-hunter"))
	ctx := context.Background()

	me, err := client.MyUser(ctx)
	if err != nil {
		t.Fatalf("MyUser() error: %v", err)
	}

	for _, kind := range []VoteKind{VoteNegative, VotePositive} {
		result, err := client.VoteAPK(ctx, testSHA256, kind)
		if err != nil {
			t.Fatalf("VoteAPK(%q) error: %v", kind, err)
		}
		if result.Kind != kind {
			t.Errorf("VoteAPK(%q).Kind = %q", kind, result.Kind)
		}
	}

	list, err := client.Votes(ctx, testSHA256)
	if err != nil {
		t.Fatalf("Votes() error: %v", err)
	}

	var mine []Vote
	for _, v := range list.Results {
		if v.Analyst == me.Username {
			mine = append(mine, v)
		}
	}
	if len(mine) != 1 {
		t.Fatalf("votes by %q = %+v, want exactly one", me.Username, mine)
	}
	if mine[0].Kind != VotePositive {
		t.Errorf("latest vote kind = %q, want %q", mine[0].Kind, VotePositive)
	}
}

func TestClient_VoteAPK_InvalidKind(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for invalid kind")
	}))

	_, err := client.VoteAPK(context.Background(), testSHA256, "neutral")
	if !errors.Is(err, ErrInvalidVoteKind) {
		t.Errorf("VoteAPK() error = %v, want ErrInvalidVoteKind", err)
	}
}

func TestClient_Votes_EmptyResults(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"count":0,"results":null}`))
	}))

	list, err := client.Votes(context.Background(), testSHA256)
	if err != nil {
		t.Fatalf("Votes() error: %v", err)
	}
	if list.Results == nil {
		t.Error("Votes().Results is nil, want empty slice")
	}
}

func TestParseVoteKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    VoteKind
		wantErr bool
	}{
		{in: "positive", want: VotePositive},
		{in: " NEGATIVE ", want: VoteNegative},
		{in: "", wantErr: true},
		{in: "maybe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseVoteKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVoteKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseVoteKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
