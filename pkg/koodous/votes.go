// ABOUTME: Vote operations on samples
// ABOUTME: Cast positive/negative votes and list the votes recorded for a sample

package koodous

import (
	"context"
	"net/http"
)

// VoteAPK records the caller's vote on a sample.
func (c *Client) VoteAPK(ctx context.Context, digest string, kind VoteKind) (*VoteResult, error) {
	kind, err := ParseVoteKind(string(kind))
	if err != nil {
		return nil, err
	}

	var result VoteResult
	err = c.doJSON(ctx, request{
		operation: "vote",
		method:    http.MethodPost,
		ref:       digestPath(digest, "votes"),
		jsonBody:  map[string]VoteKind{"kind": kind},
		sha256:    digest,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Votes returns the votes recorded for a sample.
func (c *Client) Votes(ctx context.Context, digest string) (*VoteList, error) {
	var votes VoteList
	err := c.doJSON(ctx, request{
		operation: "get votes",
		method:    http.MethodGet,
		ref:       digestPath(digest, "votes"),
		sha256:    digest,
	}, &votes)
	if err != nil {
		return nil, err
	}
	if votes.Results == nil {
		votes.Results = []Vote{}
	}
	return &votes, nil
}
