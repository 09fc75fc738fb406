// Package arxiv is a client for the arXiv export API. It issues one query per
// call and parses the Atom response into content candidates; pacing and
// retries are the caller's concern.
package arxiv
