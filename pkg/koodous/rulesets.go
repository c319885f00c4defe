// ABOUTME: Public ruleset metadata and match listings
// ABOUTME: Single-page and lazy paginated access to samples matching a ruleset

package koodous

import (
	"context"
	"iter"
	"net/http"
	"strconv"
)

// GetPublicRuleset returns the metadata of a public ruleset.
func (c *Client) GetPublicRuleset(ctx context.Context, id int64) (*Ruleset, error) {
	var ruleset Ruleset
	err := c.doJSON(ctx, request{
		operation: "get public ruleset",
		method:    http.MethodGet,
		ref:       rulesetPath(id),
	}, &ruleset)
	if err != nil {
		return nil, err
	}
	return &ruleset, nil
}

// GetMatchesPublicRuleset returns the first page of samples matching a ruleset.
func (c *Client) GetMatchesPublicRuleset(ctx context.Context, id int64) ([]APK, error) {
	items, _, err := c.matchesPager(id).Next(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []APK{}
	}
	return items, nil
}

// IterMatchesPublicRuleset lazily yields pages of samples matching a ruleset.
//
// Each range over the returned sequence starts again from the first page;
// there is no way to seek backward. Every page but possibly the last holds
// PageSize entries. Breaking out of the loop stops further fetches. A failed
// fetch is yielded once as an error and ends the sequence.
func (c *Client) IterMatchesPublicRuleset(ctx context.Context, id int64) iter.Seq2[[]APK, error] {
	return func(yield func([]APK, error) bool) {
		c.matchesPager(id).All(ctx)(yield)
	}
}

func (c *Client) matchesPager(id int64) *pager[APK] {
	return newPager[APK](c, "get ruleset matches", rulesetPath(id, "matches"), c.listQuery())
}

// rulesetPath builds a /public_rulesets/{id}/... path.
func rulesetPath(id int64, parts ...string) string {
	path := "public_rulesets/" + strconv.FormatInt(id, 10)
	for _, p := range parts {
		path += "/" + p
	}
	return path
}
