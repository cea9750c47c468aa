// Package util provides common utility functions and data structures
//
// This package includes a generic set used to de-duplicate request ids and
// instance ids, plus sequential call helpers
package util
