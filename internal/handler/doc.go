// Package handler implements the diskmesh HTTP API.
//
// # Routes
//
// Reads:
//
//	GET    /api/networks                    registered networks
//	GET    /api/networks/{id}               one network with members
//	GET    /api/inspect?at=S:X:Y:Z          dry-run detection
//	GET    /api/check?at=S:X:Y:Z&kind=K     dry-run placement guard
//	GET    /api/bays/{at}/slots             drive slots of a bay
//	GET    /api/disks/{id}                  one disk
//	GET    /api/peripherals                 all peripherals
//	GET    /api/orphans                     slots preserved from torn-down networks
//
// World events:
//
//	POST   /api/nodes                       place {at, kind, owner_id}
//	DELETE /api/nodes/{at}                  remove one node
//	POST   /api/destroy                     batch removal {coords, owner_id}
//	PUT    /api/bays/{at}/slots/{index}     insert a disk
//	DELETE /api/bays/{at}/slots/{index}     take a disk out
//	PUT    /api/peripherals/{id}/enabled    {enabled}
//
// Administration:
//
//	DELETE /api/disks/{id}                  purge a disk
//	POST   /api/rescan                      re-detect every server
//	POST   /api/reconcile                   run the peripheral reconciler
//
// Coordinates in paths and queries use the "space:x:y:z" form.
//
// # Response Format
//
// Success responses return JSON data with appropriate status codes (200, 201).
// Error responses return JSON with {error, details} structure. A refused
// placement returns 409 with the conflict in the "conflict" field.
//
// # Server-Sent Events
//
// The /events endpoint streams notifier events when a hub is mounted.
package handler
