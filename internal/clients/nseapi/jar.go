package nseapi

import (
	"net/http"
	"net/http/cookiejar"
)

// newCookieJar builds the session jar; the exchange issues cookies on the
// first hit and rejects subsequent API calls without them.
func newCookieJar() http.CookieJar {
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New with nil options cannot fail.
		panic(err)
	}
	return jar
}
