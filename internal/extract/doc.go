// Package extract turns a user-supplied URL into structured data fetched from a
// rendered page.
//
// A request flows through four stages. The Canonicalizer maps the input onto an
// exact fetch target. A Session from the SessionProvider fetches the page. The
// BlockDetector decides whether the remote served a challenge instead of content.
// The payload extractors then parse a thread's JSON document or walk the review
// cards of a listing page, with the Paginator driving listings page by page.
//
// The Orchestrator composes these stages. It acquires exactly one session per
// request, releases it on every exit path and reports failures as *Error values
// whose Kind maps onto an HTTP status. Nothing is retried.
package extract
