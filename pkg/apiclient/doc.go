// Package apiclient provides a client for REST APIs protected by OAuth2.
//
// # Overview
//
// A Client issues index, get, post, put and delete calls against a base URL.
// It obtains an access token on first use with the grant configured on its
// Authenticator (client credentials or resource owner password), attaches it
// as a bearer token and, when the API answers 401 with an expired token
// fault, refreshes the token and replays the call exactly once.
//
// Calls are split into a Start and an End step. Start returns an opaque
// handle immediately; End blocks until the response is available. Many calls
// may be in flight at once when the Transport executes them concurrently:
//
//	h1, _ := cli.StartGet(ctx, "widgets", "1", nil)
//	h2, _ := cli.StartGet(ctx, "widgets", "2", nil)
//	first, _ := cli.End(ctx, h1)
//	second, _ := cli.End(ctx, h2)
//
// Most consumers construct a Client through the restclient package, which
// wires configuration, the HTTP transport and a cache backend.
//
// # Caching
//
// CacheMode is a bitset. CacheModeGet serves GET calls from the Cache and
// stores their responses; CacheModeToken stores token responses until the
// token expires; CacheModeRefresh never reads the cache but always rewrites
// GET responses. Responses are stored until their Expires header; responses
// without one are not stored.
//
// # Collections
//
// Collection walks every element of a paginated index resource:
//
//	coll, _ := apiclient.NewCollection(cli, "widgets", url.Values{"color": {"red"}})
//	for coll.Next(ctx) {
//		fmt.Println(coll.Item().Get("name"))
//	}
//
// # Errors
//
// Caller mistakes are reported as ErrInvalidArgument before any network
// activity. Token endpoint failures are *AuthenticationError values and
// network failures are *TransportError values. API responses with any status
// code are returned as Responses, never as errors.
package apiclient
