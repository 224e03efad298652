// Package bitset provides support for treating a []uintptr as an
// ordinal-indexed bitset. Write-side type states use it
// to track which ordinals are currently populated, without the
// overhead of a fully general bitset package.
package bitset
