// Package tables holds the built-in column maps. Each map registers itself
// with the core registry in init, so a blank import makes them available:
//
//	import _ "github.com/JonMunkholm/itemstage/internal/core/tables"
package tables
