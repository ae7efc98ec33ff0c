package api

import "net/http"

// manifest is a minimal installable-PWA manifest for the live map frontend.
// The frontend bundle itself is out of scope for this service; a reverse
// proxy or static host serves it alongside this API.
const manifest = `{
  "name": "Mesh Map",
  "short_name": "MeshMap",
  "start_url": "/",
  "display": "standalone",
  "background_color": "#0b0f14",
  "theme_color": "#0b0f14",
  "icons": []
}`

// ManifestHandler serves the PWA manifest referenced by the frontend shell.
func ManifestHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/manifest+json")
	w.Write([]byte(manifest))
}

// serviceWorker is a pass-through worker: it exists so the frontend can be
// installed as a PWA, but intentionally does no offline caching, since the
// live map is only meaningful with a live WebSocket connection.
const serviceWorker = `self.addEventListener('install', () => self.skipWaiting());
self.addEventListener('activate', (event) => event.waitUntil(self.clients.claim()));
self.addEventListener('fetch', () => {});
`

// ServiceWorkerHandler serves the no-op service worker script.
func ServiceWorkerHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Write([]byte(serviceWorker))
}
