/*
Package templating locates and assembles the template for a previewed page.

A URL path is normalized into segments and expanded into a cascade of
candidate files, from the most specific ("blog/post.html") down to the
site-wide "default.html". The Resolver returns the first candidate present in
the content root, or no template at all, which is a valid outcome that the
renderer handles itself.

The Inliner then flattens the template by replacing every
{% include "name" %} directive with the content of the matching include
file ("_name.html", or "dir/_name.html" for "dir/name"), recursively, until
no directive remains. Include chains are tracked so self-referencing
includes fail with ErrIncludeCycle instead of looping, and depth and output
size are bounded by Config.
*/
package templating
