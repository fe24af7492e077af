// Package client is the Go SDK for a naivechain node's admin HTTP surface.
//
// Reading the chain needs no credentials:
//
//	c, err := client.New("http://localhost:3001")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	blocks, err := c.Blocks(ctx)
//
// # Admin operations
//
// When the node runs with an admin secret, mining and adding peers require an
// admin token. Exchange the secret once and build an authenticated client:
//
//	tok, err := c.Token(ctx, os.Getenv("ADMIN_SECRET"))
//	admin, _ := client.New("http://localhost:3001", client.WithBearerToken(tok))
//	b, err := admin.Mine(ctx, "some data")
//
// AddPeer only starts a connection attempt; poll Peers to see whether it
// succeeded.
package client
