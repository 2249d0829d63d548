// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing core model objects (rooms,
// sessions, rosters) and scripted model registries. These helpers are
// intentionally minimal and not intended for production usage.
package testutil
