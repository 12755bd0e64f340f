// Package admin exposes the administrative and beacon HTTP endpoints:
// forced logout, broadcast announcements, and the browser-unload
// session release.
package admin
