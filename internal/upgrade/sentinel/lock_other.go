//go:build !unix

package sentinel

import "os"

// Without flock only the in-process launch mutex applies.
func flock(*os.File) error { return nil }

func funlock(*os.File) error { return nil }
