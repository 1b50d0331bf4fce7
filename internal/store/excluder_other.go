//go:build !linux && !darwin

package store

// XattrExcluder is a no-op on platforms without extended attributes.
type XattrExcluder struct{}

func (XattrExcluder) Exclude(string) error { return nil }
