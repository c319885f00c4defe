// ABOUTME: Comment operations on samples
// ABOUTME: Create, list and delete analyst comments

package koodous

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// PostComment attaches a comment to a sample and returns it as stored.
func (c *Client) PostComment(ctx context.Context, digest, text string) (*Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("post comment: text must not be empty")
	}

	var comment Comment
	err := c.doJSON(ctx, request{
		operation: "post comment",
		method:    http.MethodPost,
		ref:       digestPath(digest, "comments"),
		jsonBody:  map[string]string{"text": text},
		sha256:    digest,
	}, &comment)
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// GetComments lists every comment on a sample, following all pages.
func (c *Client) GetComments(ctx context.Context, digest string) ([]Comment, error) {
	p := newPager[Comment](c, "get comments", digestPath(digest, "comments"), c.listQuery())
	p.sha256 = digest
	return p.collect(ctx, 0)
}

// DeleteComment removes a comment. It reports false when the comment does
// not exist.
func (c *Client) DeleteComment(ctx context.Context, id int64) (bool, error) {
	err := c.doJSON(ctx, request{
		operation: "delete comment",
		method:    http.MethodDelete,
		ref:       "comments/" + strconv.FormatInt(id, 10),
	}, nil)

	switch {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}
