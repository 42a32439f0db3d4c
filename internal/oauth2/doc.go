// Package oauth2 obtains and caches access tokens for a Google-style service
// account using the JWT bearer grant (RFC 7523).
//
// # Flow
//
// AssertionSigner builds an RS256 assertion from the service-account
// credentials, TokenExchanger trades it for an access token at the token
// endpoint, and TokenCache keeps the result until it comes within the safety
// margin of its expiry.
//
//	cache := oauth2.NewTokenCache(
//	    oauth2.NewAssertionSigner(oauth2.DefaultAudience, oauth2.DefaultScope),
//	    oauth2.NewTokenExchanger(oauth2.DefaultTokenURL, httpClient),
//	    oauth2.WithStorage(oauth2.NewRedisTokenStorage(redisClient, encryptor)),
//	)
//	token, err := cache.Token(ctx, account)
//
// # Concurrency
//
// Refreshes for the same account are collapsed with singleflight, so a cold
// cache hit by many goroutines performs exactly one exchange. The optional
// TokenStorage lets several processes share one token; the in-process cache
// still decides when a refresh is due.
package oauth2
