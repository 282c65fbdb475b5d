// Package restclient provides the primary entry point for constructing an
// OAuth2 protected REST API client.
//
// It layers configuration, the retrying HTTP transport, logging, metrics and
// the cache backend on top of the request orchestration defined in the
// apiclient package. Most applications should import restclient to build a
// client, then use the verb methods of the returned Client.
//
// Quick start
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/apiclient/pkg/apiclient"
//	  "github.com/fivetwenty-io/apiclient/pkg/restclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//
//	  cli, err := restclient.New(ctx, &restclient.Config{
//	    BaseURL:      "https://api.example.com/v1",
//	    ClientID:     "my-client",
//	    ClientSecret: "my-secret",
//	    CacheMode:    apiclient.CacheModeAll,
//	  })
//	  if err != nil { log.Fatal(err) }
//	  defer cli.Close()
//
//	  resp, err := cli.Index(ctx, "widgets", nil)
//	  if err != nil { log.Fatal(err) }
//	  log.Println(resp.Get("pagination.total").Int())
//	}
//
// Cache backends
//
// CacheConfig selects memory, redis, nats, postgres or none. Backends that
// hold a connection are closed by Client.Close. The cache can also be built
// on its own with NewCacheFromConfig or a CacheBuilder and passed to
// apiclient.New directly.
package restclient
