package livereload

import (
	"bytes"
	"strings"
)

// ClientScript reconnects to the reload socket and reloads the page or its
// stylesheets when told to.
const ClientScript = `<script>
(function() {
    'use strict';
    var delay = 1000;
    function reloadCSS() {
        document.querySelectorAll('link[rel="stylesheet"]').forEach(function(link) {
            var url = new URL(link.href);
            url.searchParams.set('_reload', Date.now());
            link.href = url.toString();
        });
    }
    function connect() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        var ws = new WebSocket(protocol + '//' + location.host + '` + DefaultPath + `');
        ws.onopen = function() { delay = 1000; };
        ws.onmessage = function(e) {
            var msg;
            try { msg = JSON.parse(e.data); } catch (err) { return; }
            if (msg.type === 'css') { reloadCSS(); } else { location.reload(); }
        };
        ws.onclose = function() {
            setTimeout(function() { delay = Math.min(delay * 2, 30000); connect(); }, delay);
        };
    }
    connect();
})();
</script>`

var bodyClose = []byte("</body>")

// Inject adds ClientScript to HTML bodies, before the last </body> when
// there is one and at the end otherwise. Other content types are returned
// unchanged.
func Inject(contentType string, body []byte) []byte {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html") {
		return body
	}
	idx := bytes.LastIndex(bytes.ToLower(body), bodyClose)
	out := make([]byte, 0, len(body)+len(ClientScript))
	if idx < 0 {
		out = append(out, body...)
		return append(out, ClientScript...)
	}
	out = append(out, body[:idx]...)
	out = append(out, ClientScript...)
	return append(out, body[idx:]...)
}
