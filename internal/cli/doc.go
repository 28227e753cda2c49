// Package cli implements the rentalctl command tree.
package cli
