// Package notebook loads cell manifests from documentation pages and binds
// them to the scheduler: each manifest cell becomes a registered cell whose
// run function executes its code through the bridge, with the latest result
// retained for the HTTP and WebSocket surfaces.
package notebook
