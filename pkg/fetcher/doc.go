// Package fetcher runs HTTP exchanges through ordered interceptor chains.
//
// Every call creates an Exchange that passes through three chains: the
// request chain before the transport call, the response chain after a
// response arrives, and the error chain when any step failed. Error
// interceptors may recover an exchange by attaching a new response and
// clearing the error.
//
// Basic usage:
//
//	f := fetcher.New(
//		fetcher.WithBaseURL("https://api.example.com"),
//		fetcher.WithTimeout(10*time.Second),
//	)
//
//	order, err := fetcher.Execute[*Order](ctx, f, &fetcher.Request{
//		URL:        "/orders/{id}",
//		PathParams: map[string]string{"id": id},
//	}, fetcher.WithExtractor(fetcher.JSON[Order]()))
//	if err != nil {
//		if fetcher.IsTimeout(err) {
//			// the transport did not answer in time
//		}
//		return err
//	}
package fetcher
