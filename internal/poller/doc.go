// Package poller periodically re-fetches quote snapshots over HTTP and
// replays them into the engine, healing any drift left by missed stream
// updates. The feed remains the primary source; the poller is a slow
// safety net.
package poller
