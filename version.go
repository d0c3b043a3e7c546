// Package astrocomm is the module root; it holds only the release version,
// the rest of the broker lives in its component packages (envelope,
// transport, session, registry, queue, router, subscription, auth,
// supervisor, bridge, broker).
package astrocomm

import "fmt"

var Version = "0.1.0"

func VersionJSON() []byte {
	return []byte(fmt.Sprintf(`{"version": "%s"}`, Version))
}
