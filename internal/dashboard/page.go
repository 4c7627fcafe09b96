package dashboard

import (
	"fmt"
	"html"
)

// indexPageTemplate is the landing page served at GET /, with %d/%s
// placeholders filled in by renderIndexPage so the initial count is
// server-rendered (spec §4.8: "an HTML page with the initial count
// server-rendered") rather than left blank until the first SSE push. No
// build step or asset pipeline is involved, matching the dashboard's
// description as a single page plus a JSON/SSE contract.
const indexPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>hypermind</title>
<style>
body { font-family: monospace; background: #0b0d10; color: #d7dde3; margin: 2rem; }
h1 { font-weight: normal; }
.stat { font-size: 2rem; }
.label { color: #8a94a0; font-size: 0.9rem; }
table { border-collapse: collapse; margin-top: 1rem; }
td, th { padding: 0.25rem 0.75rem; text-align: left; border-bottom: 1px solid #222; }
</style>
</head>
<body>
<h1>hypermind</h1>
<div class="stat" id="activeNodes">%d</div>
<div class="label">active nodes</div>
<table>
<tr><th>direct connections</th><td id="directConnections">%d</td></tr>
<tr><th>uptime (s)</th><td id="uptimeSeconds">%d</td></tr>
<tr><th>location opt-in</th><td id="locationOptIn">%t</td></tr>
<tr><th>node id</th><td id="selfId">%s</td></tr>
</table>
<script>
const es = new EventSource("/events");
es.onmessage = (ev) => {
  const s = JSON.parse(ev.data);
  document.getElementById("activeNodes").textContent = s.count;
  document.getElementById("directConnections").textContent = s.direct;
  document.getElementById("uptimeSeconds").textContent = s.uptimeSeconds;
  document.getElementById("locationOptIn").textContent = s.optedIn;
  document.getElementById("selfId").textContent = s.id;
};
</script>
</body>
</html>
`

// renderIndexPage fills indexPageTemplate with an initial snapshot.
func renderIndexPage(stats Stats) string {
	return fmt.Sprintf(indexPageTemplate, stats.Count, stats.Direct, stats.UptimeSeconds, stats.OptedIn, html.EscapeString(stats.ID))
}
