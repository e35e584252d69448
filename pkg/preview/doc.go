// Package preview routes browser requests for a site preview.
//
// Every request is classified by its URL path, first match wins:
//
//   - static: the path names an existing file in the content root, which is
//     served as-is;
//   - asset: the path starts with "assets" or contains a dot; the Site
//     resolves it to a remote URL, which is fetched and proxied;
//   - page: anything else; the template is resolved and its includes are
//     inlined locally, then the Site renders the page with it.
//
// Failures are typed errors that StatusFor maps to HTTP status codes, so a
// missing asset is a 404, a traversal attempt a 400 and an include cycle a
// 508 rather than a crash or a hang.
package preview
