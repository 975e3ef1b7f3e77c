// Package borrowchecker tracks shared expenses kept as TOML files in a git
// repository of ledgers. The web page and desktop window are driven from Go:
// backend commands render HTML fragments and a server-side document model
// pushes element patches to the browser over a websocket.
//
// The packages under internal/ hold the pieces: ledger (domain model and
// settlement logic), store (git, directory and SQL backends), bridge
// (command registry), page (document model), listfiles (the list-files
// button), app (commands and session state) and server (HTTP host).
package borrowchecker

// Version is the release of the module.
const Version = "0.1.0-dev"
