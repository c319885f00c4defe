// ABOUTME: Authenticated analyst identity
// ABOUTME: Resolves the user that owns the API token

package koodous

import (
	"context"
	"net/http"
)

// MyUser returns the analyst that owns the client's token.
func (c *Client) MyUser(ctx context.Context) (*User, error) {
	var user User
	err := c.doJSON(ctx, request{
		operation: "get current user",
		method:    http.MethodGet,
		ref:       "analysts/current",
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
